// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package metrics

import (
	"time"

	"github.com/uber-go/tally"
)

// disabledReporter discards everything reported to it. It backs the
// "disabled" backend and is also the fallback used when Backend is empty.
type disabledReporter struct{}

func (r disabledReporter) ReportCounter(name string, tags map[string]string, value int64) {}

func (r disabledReporter) ReportGauge(name string, tags map[string]string, value float64) {}

func (r disabledReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
}

func (r disabledReporter) ReportHistogramValueSamples(
	name string,
	tags map[string]string,
	buckets tally.Buckets,
	bucketLowerBound,
	bucketUpperBound float64,
	samples int64,
) {
}

func (r disabledReporter) ReportHistogramDurationSamples(
	name string,
	tags map[string]string,
	buckets tally.Buckets,
	bucketLowerBound,
	bucketUpperBound time.Duration,
	samples int64,
) {
}

func (r disabledReporter) Capabilities() tally.Capabilities { return r }

func (r disabledReporter) Reporting() bool { return true }

func (r disabledReporter) Tagging() bool { return true }

func (r disabledReporter) Flush() {}
