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

// Package bandwidth implements a token-bucket byte budget shared across
// every connection a torrent client has open, so no single peer can
// monopolize the process's egress or ingress capacity.
package bandwidth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter enforces a process-wide egress/ingress byte budget. A disabled
// Limiter (Config.Enable == false) always grants reservations immediately.
type Limiter struct {
	mu sync.Mutex

	config Config

	// currentEgressBitsPerSec / currentIngressBitsPerSec track the
	// Adjust-scaled budget; config's own fields stay fixed at the original
	// values so repeated Adjust calls are not cumulative.
	currentEgressBitsPerSec  uint64
	currentIngressBitsPerSec uint64

	egress  *rate.Limiter
	ingress *rate.Limiter
}

// NewLimiter creates a Limiter from config. When config.Enable is false,
// the returned Limiter's egress/ingress fields are nil and every Reserve
// call is a no-op.
func NewLimiter(config Config) (*Limiter, error) {
	if config.TokenSize == 0 {
		config.TokenSize = 1
	}
	if !config.Enable {
		return &Limiter{config: config}, nil
	}
	if config.EgressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: egress_bits_per_sec must be non-zero")
	}
	if config.IngressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: ingress_bits_per_sec must be non-zero")
	}
	return &Limiter{
		config:                   config,
		currentEgressBitsPerSec:  config.EgressBitsPerSec,
		currentIngressBitsPerSec: config.IngressBitsPerSec,
		egress:                   newTokenBucket(config.EgressBitsPerSec, config.TokenSize),
		ingress:                  newTokenBucket(config.IngressBitsPerSec, config.TokenSize),
	}, nil
}

// newTokenBucket builds a rate.Limiter where one token represents tokenSize
// bits of the bitsPerSec budget, so the bucket's burst equals one second's
// worth of tokens.
func newTokenBucket(bitsPerSec, tokenSize uint64) *rate.Limiter {
	tokensPerSec := bitsPerSec / tokenSize
	burst := int(tokensPerSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(tokensPerSec), burst)
}

// ReserveEgress blocks until nbytes of outbound budget is available.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	return l.reserve(l.egress, nbytes)
}

// ReserveIngress blocks until nbytes of inbound budget is available.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	return l.reserve(l.ingress, nbytes)
}

func (l *Limiter) reserve(lim *rate.Limiter, nbytes int64) error {
	if lim == nil {
		return nil
	}
	l.mu.Lock()
	tokenSize := l.config.TokenSize
	l.mu.Unlock()

	tokens := int(uint64(nbytes) * 8 / tokenSize)
	if tokens < 1 {
		tokens = 1
	}
	if tokens > lim.Burst() {
		return fmt.Errorf("bandwidth: reservation of %d bytes exceeds bucket capacity", nbytes)
	}
	return lim.WaitN(context.Background(), tokens)
}

// Adjust scales both the egress and ingress budgets down by denom, used to
// divide total bandwidth evenly across denom concurrently active
// connections. Returns an error if denom is not positive.
func (l *Limiter) Adjust(denom int) error {
	if denom <= 0 {
		return fmt.Errorf("bandwidth: denom must be positive, got %d", denom)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentEgressBitsPerSec = scaleDown(l.config.EgressBitsPerSec, denom)
	l.currentIngressBitsPerSec = scaleDown(l.config.IngressBitsPerSec, denom)

	tokenSize := float64(l.config.TokenSize)
	if l.egress != nil {
		l.egress.SetLimit(rate.Limit(float64(l.currentEgressBitsPerSec) / tokenSize))
	}
	if l.ingress != nil {
		l.ingress.SetLimit(rate.Limit(float64(l.currentIngressBitsPerSec) / tokenSize))
	}
	return nil
}

func scaleDown(v uint64, denom int) uint64 {
	scaled := v / uint64(denom)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// EgressLimit returns the current egress limit, in the same units Adjust
// scales (bits-per-sec divided by the most recent denom).
func (l *Limiter) EgressLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(l.currentEgressBitsPerSec)
}

// IngressLimit returns the current ingress limit, in the same units Adjust
// scales (bits-per-sec divided by the most recent denom).
func (l *Limiter) IngressLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(l.currentIngressBitsPerSec)
}
