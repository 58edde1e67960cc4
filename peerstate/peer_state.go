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

// Package peerstate holds the per-connection state the strategy consults
// and mutates: handshake/choke/interest flags, the remote's claimed
// bitfield, timestamps, incentive score, and framing buffers.
package peerstate

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"

	"github.com/nprezin/peerwire/core"
)

// ID is a monotonically assigned identifier for a connection, scoped to
// the event loop that assigned it.
type ID uint64

// PeerFile is the bitfield of pieces a remote peer has claimed to hold,
// mutated only by incoming Have and Bitfield messages.
type PeerFile struct {
	bits *bitset.BitSet
	n    uint
}

// NewPeerFile returns a PeerFile tracking n pieces, initially empty.
func NewPeerFile(n int) *PeerFile {
	return &PeerFile{bits: bitset.New(uint(n)), n: uint(n)}
}

// SetHave marks piece i as held by the remote.
func (f *PeerFile) SetHave(i int) {
	if i < 0 || uint(i) >= f.n {
		return
	}
	f.bits.Set(uint(i))
}

// ReplaceBitfield overwrites the entire bitfield from a Bitfield message's
// MSB-first byte payload, truncated to n bits.
func (f *PeerFile) ReplaceBitfield(raw []byte) {
	next := bitset.New(f.n)
	for i := uint(0); i < f.n; i++ {
		byteIndex := i / 8
		if int(byteIndex) >= len(raw) {
			break
		}
		bitIndex := 7 - i%8
		if raw[byteIndex]&(1<<bitIndex) != 0 {
			next.Set(i)
		}
	}
	f.bits = next
}

// Has reports whether the remote claims piece i.
func (f *PeerFile) Has(i int) bool {
	if i < 0 || uint(i) >= f.n {
		return false
	}
	return f.bits.Test(uint(i))
}

// Len returns the number of pieces tracked.
func (f *PeerFile) Len() int {
	return int(f.n)
}

// PeerState holds everything the strategy needs about one connected peer.
// The event loop owns the instance and hands it to the strategy one event
// at a time; the strategy and the event loop itself are its only writers.
type PeerState struct {
	mu sync.Mutex

	ID       ID
	PeerID   core.PeerID
	PieceLen int64

	handshakeReceived bool

	weChokeThem    bool
	theyChokeUs    bool
	weInterested   bool
	theyInterested bool

	remoteBitfield *PeerFile

	lastReceive time.Time
	lastSend    time.Time
	connectedAt time.Time

	score int

	outbound [][]byte

	disconnected bool
}

// New returns a freshly connected PeerState: both directions choked, not
// interested, handshake pending, per spec's initial-state invariant.
func New(id ID, numPieces int, clk clock.Clock) *PeerState {
	now := clk.Now()
	return &PeerState{
		ID:             id,
		weChokeThem:    true,
		theyChokeUs:    true,
		remoteBitfield: NewPeerFile(numPieces),
		connectedAt:    now,
		lastReceive:    now,
		lastSend:       now,
	}
}

// LatchHandshake marks the handshake as received. Idempotent: once true,
// never reverts.
func (p *PeerState) LatchHandshake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handshakeReceived = true
}

// HandshakeReceived reports whether the handshake has latched.
func (p *PeerState) HandshakeReceived() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handshakeReceived
}

// SetWeChokeThem sets our choke state toward the remote.
func (p *PeerState) SetWeChokeThem(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weChokeThem = v
}

// WeChokeThem reports our choke state toward the remote.
func (p *PeerState) WeChokeThem() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.weChokeThem
}

// SetTheyChokeUs sets the remote's choke state toward us.
func (p *PeerState) SetTheyChokeUs(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.theyChokeUs = v
}

// TheyChokeUs reports the remote's choke state toward us.
func (p *PeerState) TheyChokeUs() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.theyChokeUs
}

// SetWeInterested sets our interest state toward the remote.
func (p *PeerState) SetWeInterested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weInterested = v
}

// WeInterested reports our interest state toward the remote.
func (p *PeerState) WeInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.weInterested
}

// SetTheyInterested sets the remote's interest state toward us.
func (p *PeerState) SetTheyInterested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.theyInterested = v
}

// TheyInterested reports the remote's interest state toward us.
func (p *PeerState) TheyInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.theyInterested
}

// RemoteBitfield returns the PeerFile tracking what the remote claims to
// have. Callers must not retain it past the current event.
func (p *PeerState) RemoteBitfield() *PeerFile {
	return p.remoteBitfield
}

// AddScore adds delta to the peer's incentive score.
func (p *PeerState) AddScore(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.score += delta
}

// Score returns the peer's current incentive score.
func (p *PeerState) Score() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score
}

// Touch updates lastReceive or lastSend to now, depending on direction.
func (p *PeerState) Touch(now time.Time, receive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if receive {
		p.lastReceive = now
	} else {
		p.lastSend = now
	}
}

// LastReceive returns the timestamp of the most recent inbound byte.
func (p *PeerState) LastReceive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReceive
}

// LastSend returns the timestamp of the most recent outbound byte.
func (p *PeerState) LastSend() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSend
}

// Enqueue appends a framed message to the peer's outbound buffer.
func (p *PeerState) Enqueue(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = append(p.outbound, frame)
}

// DrainOutbound removes and returns all currently queued outbound frames.
func (p *PeerState) DrainOutbound() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.outbound
	p.outbound = nil
	return out
}

// MarkDisconnected latches the terminal disconnected state.
func (p *PeerState) MarkDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
}

// Disconnected reports whether this peer has been marked terminal.
func (p *PeerState) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}
