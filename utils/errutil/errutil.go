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

// Package errutil provides helpers for aggregating errors collected
// while fanning out work across peers.
package errutil

import "strings"

// MultiError joins multiple errors into one.
type MultiError []error

// Error implements the error interface.
func (e MultiError) Error() string {
	messages := make([]string, len(e))
	for i, err := range e {
		messages[i] = err.Error()
	}
	return strings.Join(messages, ", ")
}

// Join returns a single error aggregating the non-nil errors in errs. Returns
// nil if errs contains no non-nil errors.
func Join(errs []error) error {
	var me MultiError
	for _, err := range errs {
		if err != nil {
			me = append(me, err)
		}
	}
	if len(me) == 0 {
		return nil
	}
	return me
}
