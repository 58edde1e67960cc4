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

// Package backoff wraps cenkalti/backoff's exponential backoff in a small
// attempt iterator so retry loops (dialing a peer, hitting a tracker) read
// as a for loop instead of manual interval bookkeeping.
package backoff

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// Sane defaults applied when a Config leaves Factor or Max unset.
const (
	defaultMultiplier          = 1.5
	defaultRandomizationFactor = 0.5
)

// maxInterval is the effective cap applied when Config.Max is zero, i.e.
// unbounded growth.
const maxInterval = time.Duration(1<<63 - 1)

// ErrRetryTimeout is returned by Attempts.Err when iteration stopped
// because another attempt would exceed Config.RetryTimeout.
var ErrRetryTimeout = errors.New("backoff: retry timeout exceeded")

// Config defines an exponential backoff schedule.
type Config struct {

	// Min is the interval before the second attempt.
	Min time.Duration `yaml:"min"`

	// Max caps the interval between any two attempts. Zero means
	// unbounded.
	Max time.Duration `yaml:"max"`

	// Factor is the multiplier applied to the interval after each
	// attempt.
	Factor float64 `yaml:"factor"`

	// NoJitter disables randomization of each interval. Useful for
	// deterministic tests.
	NoJitter bool `yaml:"no_jitter"`

	// RetryTimeout bounds total time spent waiting between attempts. The
	// first attempt always runs regardless of RetryTimeout.
	RetryTimeout time.Duration `yaml:"retry_timeout"`
}

// Backoff builds Attempts iterators sharing config.
type Backoff struct {
	config Config
}

// New returns a Backoff using config.
func New(config Config) *Backoff {
	return &Backoff{config: config}
}

// Attempts returns a fresh retry iterator.
func (b *Backoff) Attempts() *Attempts {
	multiplier := b.config.Factor
	if multiplier <= 1 {
		multiplier = defaultMultiplier
	}
	max := b.config.Max
	if max <= 0 {
		max = maxInterval
	}
	randomization := defaultRandomizationFactor
	if b.config.NoJitter {
		randomization = 0
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.config.Min,
		RandomizationFactor: randomization,
		Multiplier:          multiplier,
		MaxInterval:         max,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()

	return &Attempts{
		config: b.config,
		first:  true,
		eb:     eb,
	}
}

// Attempts iterates through retry attempts, sleeping an exponentially
// growing interval between each. The first attempt always runs; every
// attempt after that is only taken if the interval leading up to it would
// not push total elapsed wait time past Config.RetryTimeout.
type Attempts struct {
	config  Config
	eb      *backoff.ExponentialBackOff
	first   bool
	elapsed time.Duration
	err     error
}

// WaitForNext blocks for the next backoff interval (skipped before the
// first attempt) and reports whether another attempt should be made.
func (a *Attempts) WaitForNext() bool {
	if a.first {
		a.first = false
		return true
	}

	interval := a.eb.NextBackOff()
	if interval == backoff.Stop {
		interval = a.eb.MaxInterval
	}

	if a.config.RetryTimeout > 0 && a.elapsed+interval > a.config.RetryTimeout {
		a.err = ErrRetryTimeout
		return false
	}

	time.Sleep(interval)
	a.elapsed += interval
	return true
}

// Err returns the reason iteration stopped, nil if it completed without
// hitting RetryTimeout.
func (a *Attempts) Err() error {
	return a.err
}
