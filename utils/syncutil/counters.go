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

// Package syncutil provides small concurrency-safe primitives shared
// across the scheduling packages.
package syncutil

import "sync"

// Counters is a fixed-size slice of ints safe for concurrent access,
// used to track per-piece peer counts for rarest-first selection.
type Counters struct {
	mu sync.Mutex
	c  []int
}

// NewCounters returns a Counters of length n, all zeroed.
func NewCounters(n int) Counters {
	return Counters{c: make([]int, n)}
}

// Len returns the number of counters.
func (c *Counters) Len() int {
	return len(c.c)
}

// Increment adds 1 to the counter at i.
func (c *Counters) Increment(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c[i]++
}

// Decrement subtracts 1 from the counter at i.
func (c *Counters) Decrement(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c[i]--
}

// Set overwrites the counter at i with v.
func (c *Counters) Set(i, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c[i] = v
}

// Get returns the counter at i.
func (c *Counters) Get(i int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c[i]
}
