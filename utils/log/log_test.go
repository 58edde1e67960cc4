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
package log

import (
	"testing"

	"go.uber.org/zap"
)

func TestPackageLevelCallsDoNotPanicWithNopDefault(t *testing.T) {
	Info("hello")
	Infof("hello %s", "world")
	Warnf("uh oh: %d", 1)
	Error("bad")
	With("key", "value").Info("structured")
}

func TestSetGlobalLoggerSwaps(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("build logger: %s", err)
	}
	SetGlobalLogger(logger.Sugar())
	defer SetGlobalLogger(NewNopLogger())

	Info("now using a real logger")
}
