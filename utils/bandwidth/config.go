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
package bandwidth

// Config defines Limiter configuration.
type Config struct {
	// EgressBitsPerSec is the total outbound bandwidth budget shared across
	// every connection the limiter is attached to.
	EgressBitsPerSec uint64 `yaml:"egress_bits_per_sec" validate:"nonzero"`

	// IngressBitsPerSec is the total inbound bandwidth budget shared across
	// every connection the limiter is attached to.
	IngressBitsPerSec uint64 `yaml:"ingress_bits_per_sec" validate:"nonzero"`

	// TokenSize is the number of bits one rate-limiter token represents.
	// Larger values trade reservation granularity for lower overhead on
	// high-throughput links.
	TokenSize uint64 `yaml:"token_size"`

	// Enable toggles bandwidth limiting entirely. When false, Reserve calls
	// are always immediately satisfied.
	Enable bool `yaml:"enable"`
}
