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
package timeutil

import (
	"sync"
	"time"
)

// Timer is a restartable, cancelable wrapper around time.AfterFunc. Unlike
// a bare time.Timer, Start and Cancel both report whether they actually
// changed the timer's state, so callers never need to reason about
// draining C themselves.
type Timer struct {
	d time.Duration

	mu      sync.Mutex
	t       *time.Timer
	started bool

	// C receives the fire time once per successful Start not preceded by
	// a Cancel.
	C chan time.Time
}

// NewTimer returns a Timer which, once started, fires after d.
func NewTimer(d time.Duration) *Timer {
	return &Timer{d: d, C: make(chan time.Time, 1)}
}

// Start arms the timer. Returns false if it is already running.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return false
	}
	t.started = true
	t.t = time.AfterFunc(t.d, func() {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		t.C <- time.Now()
	})
	return true
}

// Cancel stops the timer before it fires. Returns false if the timer was
// never started, already fired, or already canceled.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return false
	}
	t.started = false
	return t.t.Stop()
}
