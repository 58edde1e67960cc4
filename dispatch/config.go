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

// Package dispatch owns the single goroutine that mutates all shared
// per-torrent state: the peer table and the piece store. Every conn.Conn
// runs its own read/write goroutines and forwards parsed frames over a
// channel into this goroutine's event loop; only the event loop goroutine
// ever calls into strategy.Strategy or storage.PartialFile, so neither
// needs a lock of its own.
package dispatch

import (
	"time"

	"github.com/nprezin/peerwire/conn"
)

// Config configures the dispatcher's event loop and piece-request timeout.
type Config struct {

	// RequestTimeout bounds how long a piece request may remain pending
	// before it is considered failed and freed up for re-request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TickInterval is how often the event loop runs strategy.OnTick over
	// every peer.
	TickInterval time.Duration `yaml:"tick_interval"`

	// EventBufferSize bounds how many unprocessed events may queue up
	// before senders start blocking.
	EventBufferSize int `yaml:"event_buffer_size"`

	Conn conn.Config `yaml:"conn"`
}

func (c Config) applyDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = 1000
	}
	return c
}
