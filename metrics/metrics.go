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

// Package metrics wraps tally.Scope construction behind a Config so callers
// pick a backend by name instead of wiring a tally.Scope by hand. New
// backends register themselves at init time via Register.
package metrics

import (
	"fmt"
	"io"

	"github.com/uber-go/tally"
)

// factory builds a tally.Scope (and its io.Closer) for one backend.
type factory func(config Config, cluster string) (tally.Scope, io.Closer, error)

var _factories = make(map[string]factory)

// Register adds a backend under name, for use as Config.Backend. Call from
// an init function in the backend's own file.
func Register(name string, f factory) {
	_factories[name] = f
}

func init() {
	Register("", newDisabled)
	Register("disabled", newDisabled)
}

// New constructs the tally.Scope named by config.Backend, prefixed with
// cluster. The returned io.Closer must be closed on shutdown to flush
// buffered metrics.
func New(config Config, cluster string) (tally.Scope, io.Closer, error) {
	f, ok := _factories[config.Backend]
	if !ok {
		return nil, nil, fmt.Errorf("metrics: unknown backend %q", config.Backend)
	}
	return f(config, cluster)
}

func newDisabled(config Config, cluster string) (tally.Scope, io.Closer, error) {
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   cluster,
		Reporter: disabledReporter{},
	}, flushIntervalOrDefault(config))
	return scope, closer, nil
}

// EmitVersion reports a gauge of 1 tagged with version, so dashboards can
// track which build is deployed.
func EmitVersion(scope tally.Scope, version string) {
	scope.Tagged(map[string]string{"version": version}).Gauge("version").Update(1)
}
