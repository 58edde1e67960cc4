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

// Package strategy is the pure policy object consulted by the event loop on
// every peer-wire event. It holds no socket, no goroutine and no lock that
// outlives a single call: it only mutates the peerstate.PeerState and
// storage.PartialFile it is handed, and returns the outbound messages the
// event loop must then frame and send. Keeping it pure is what makes the
// ordering guarantees of the single dispatcher goroutine hold by
// construction.
package strategy

import (
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"

	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/peerstate"
	"github.com/nprezin/peerwire/storage"
	"github.com/nprezin/peerwire/strategy/piecerequest"
	"github.com/nprezin/peerwire/utils/syncutil"
	"github.com/nprezin/peerwire/wire"
)

// Score deltas, per-event, as tallied against a peer's incentive counter.
const (
	scoreHave          = 1
	scoreRequestServed = 1
	scorePieceReceived = 5
	scoreBitfield      = 10
)

// Request/selection bounds.
const (
	// MaxPiecesPerPeer bounds the number of pieces we may have outstanding
	// toward a single peer at once.
	MaxPiecesPerPeer = 10

	// MaxBytesPerRequest bounds the total bytes of outstanding requests
	// toward a single peer at once.
	MaxBytesPerRequest = 512 * 1024

	// bootstrapCount is how many pieces are selected at random, across the
	// torrent, before switching to rarest-first selection, to avoid every
	// freshly connected peer racing for the same rarest piece.
	bootstrapCount = 4

	// keepAliveInterval is how long a connection may go without an
	// outbound message before the event loop must send a KeepAlive.
	keepAliveInterval = 30 * time.Second

	// peerTimeout is how long a connection may go without any inbound
	// bytes before it is considered dead and disconnected.
	peerTimeout = 5 * time.Minute
)

// Outbound pairs a message with the peer it must be sent to.
type Outbound struct {
	To  peerstate.ID
	Msg wire.Message
}

// Strategy implements spec's on-handshake/on-choke/.../on-tick callbacks.
// One Strategy is bound to exactly one torrent (one InfoHash, one
// PartialFile); each connected peer gets its own peerstate.PeerState.
type Strategy struct {
	infoHash core.InfoHash
	local    *storage.PartialFile
	clk      clock.Clock

	numPeersByPiece syncutil.Counters
	selections      int

	rarest  *piecerequest.Manager
	random  *piecerequest.Manager
}

// New constructs a Strategy for a torrent backed by local storage. Piece
// requests to a single peer time out after requestTimeout if no response
// arrives, freeing that piece up for re-request.
func New(infoHash core.InfoHash, local *storage.PartialFile, clk clock.Clock, requestTimeout time.Duration) (*Strategy, error) {
	rarest, err := piecerequest.NewManager(
		clk, requestTimeout, piecerequest.RarestFirstPolicy,
		MaxPiecesPerPeer, MaxBytesPerRequest, local.PieceLength())
	if err != nil {
		return nil, err
	}
	random, err := piecerequest.NewManager(
		clk, requestTimeout, piecerequest.DefaultPolicy,
		MaxPiecesPerPeer, MaxBytesPerRequest, local.PieceLength())
	if err != nil {
		return nil, err
	}
	return &Strategy{
		infoHash:        infoHash,
		local:           local,
		clk:             clk,
		numPeersByPiece: syncutil.NewCounters(local.PieceCount()),
		rarest:          rarest,
		random:          random,
	}, nil
}

// OnHandshake validates the remote's handshake against our torrent and, on
// success, latches the handshake and emits the canonical greeting:
// Unchoke, Interested, Bitfield(local).
func (s *Strategy) OnHandshake(p *peerstate.PeerState, remoteInfoHash core.InfoHash) ([]wire.Message, error) {
	if remoteInfoHash != s.infoHash {
		return nil, &HandshakeRejectedError{Remote: remoteInfoHash, Want: s.infoHash}
	}
	p.LatchHandshake()
	return []wire.Message{
		{Kind: wire.KindUnchoke},
		{Kind: wire.KindInterested},
		{Kind: wire.KindBitfield, Bits: bitfieldBytes(s.local.Bitfield(), s.local.PieceCount())},
	}, nil
}

// OnChoke records that the remote has choked us.
func (s *Strategy) OnChoke(p *peerstate.PeerState) {
	p.SetTheyChokeUs(true)
}

// OnUnchoke records that the remote has unchoked us.
func (s *Strategy) OnUnchoke(p *peerstate.PeerState) {
	p.SetTheyChokeUs(false)
}

// OnInterested records that the remote is interested in us.
func (s *Strategy) OnInterested(p *peerstate.PeerState) {
	p.SetTheyInterested(true)
}

// OnNotInterested records that the remote is no longer interested in us.
func (s *Strategy) OnNotInterested(p *peerstate.PeerState) {
	p.SetTheyInterested(false)
}

// OnHave records that the remote now has piece i, scores the peer, and if
// the remote is unchoking us and we lack the piece and have not already
// requested it, emits request(s) for it.
func (s *Strategy) OnHave(p *peerstate.PeerState, i int) ([]wire.Message, error) {
	p.RemoteBitfield().SetHave(i)
	s.numPeersByPiece.Increment(i)
	p.AddScore(scoreHave)

	if p.TheyChokeUs() || s.local.HasPiece(i) {
		return nil, nil
	}
	candidates := bitset.New(uint(s.local.PieceCount()))
	candidates.Set(uint(i))
	return s.requestMessages(p, candidates)
}

// OnBitfield replaces the peer's remote bitfield, truncated to the
// torrent's piece count, and scores the peer.
func (s *Strategy) OnBitfield(p *peerstate.PeerState, bits []byte) {
	p.RemoteBitfield().ReplaceBitfield(bits)
	for i := 0; i < p.RemoteBitfield().Len(); i++ {
		if p.RemoteBitfield().Has(i) {
			s.numPeersByPiece.Increment(i)
		}
	}
	p.AddScore(scoreBitfield)
}

// OnRequest serves a block of a complete local piece if we are not
// choking the peer and the requested range is in bounds.
func (s *Strategy) OnRequest(p *peerstate.PeerState, index, begin, length int) (*wire.Message, error) {
	if p.WeChokeThem() {
		return nil, nil
	}
	block, ok, err := s.local.Read(index, begin, length)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	p.AddScore(scoreRequestServed)
	return &wire.Message{Kind: wire.KindPiece, Index: uint32(index), Begin: uint32(begin), Block: block}, nil
}

// OnPiece stores a received block, scores the peer, and reports whether the
// piece completed and verified this call (the event loop must then
// broadcast Have(i) to every handshaked peer).
func (s *Strategy) OnPiece(p *peerstate.PeerState, peerID peerstate.ID, index, begin int, block []byte) (completed bool, err error) {
	wasComplete := s.local.HasPiece(index)
	_, err = s.local.Add(index, begin, block)
	if err != nil {
		return false, err
	}
	p.AddScore(scorePieceReceived)
	if !wasComplete && s.local.HasPiece(index) {
		s.rarest.Clear(index)
		s.random.Clear(index)
		return true, nil
	}
	return false, nil
}

// OnDisconnect releases every piece reservation held by p, across both the
// rarest-first and random-first managers, so pieces that were only
// in-flight to the now-dead peer become selectable again for every other
// peer.
func (s *Strategy) OnDisconnect(p *peerstate.PeerState) {
	s.rarest.ClearPeer(p.ID)
	s.random.ClearPeer(p.ID)
}

// OnCancel does nothing. A Piece response already queued on the peer's
// connection for sending is still sent after a matching Cancel.
func (s *Strategy) OnCancel(p *peerstate.PeerState, index, begin, length int) {
}

// OnPort ignores the DHT port; this core does not run a DHT node, and the
// value is not stored.
func (s *Strategy) OnPort(p *peerstate.PeerState, port uint16) {
}

// OnTick runs the periodic maintenance pass for one peer: request more
// pieces if we have room, keepalive if quiet, and report whether the
// connection has gone silent long enough to disconnect.
func (s *Strategy) OnTick(p *peerstate.PeerState, now time.Time) (msgs []wire.Message, disconnect bool) {
	if now.Sub(p.LastReceive()) > peerTimeout {
		return nil, true
	}

	if !p.TheyChokeUs() {
		candidates := s.wantedFrom(p)
		if candidates.Count() > 0 {
			more, err := s.requestMessages(p, candidates)
			if err == nil {
				msgs = append(msgs, more...)
			}
		}
	}

	if len(msgs) == 0 && now.Sub(p.LastSend()) > keepAliveInterval {
		msgs = append(msgs, wire.Message{Kind: wire.KindKeepAlive})
	}
	return msgs, false
}

// requestMessages reserves pieces from candidates for p, using random-first
// selection during the initial bootstrap window and rarest-first after, and
// turns each reserved piece into one or more MaxBlock-sized Request
// messages.
func (s *Strategy) requestMessages(p *peerstate.PeerState, candidates *bitset.BitSet) ([]wire.Message, error) {
	mgr := s.rarest
	if s.selections < bootstrapCount {
		mgr = s.random
	}

	pieces, err := mgr.ReservePieces(p.ID, candidates, s.numPeersByPiece, false)
	if err != nil {
		return nil, err
	}

	var msgs []wire.Message
	for _, i := range pieces {
		s.selections++
		length, err := s.local.PieceLengthAt(i)
		if err != nil {
			return nil, err
		}
		for begin := 0; begin < length; begin += wire.MaxBlock {
			blockLen := wire.MaxBlock
			if remaining := length - begin; remaining < blockLen {
				blockLen = remaining
			}
			msgs = append(msgs, wire.Message{
				Kind:   wire.KindRequest,
				Index:  uint32(i),
				Begin:  uint32(begin),
				Length: uint32(blockLen),
			})
		}
	}
	return msgs, nil
}

// wantedFrom returns the pieces the peer has that we lack.
func (s *Strategy) wantedFrom(p *peerstate.PeerState) *bitset.BitSet {
	want := bitset.New(uint(s.local.PieceCount()))
	for _, i := range s.local.MissingPieces() {
		if p.RemoteBitfield().Has(i) {
			want.Set(uint(i))
		}
	}
	return want
}

func bitfieldBytes(b *bitset.BitSet, n int) []byte {
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if b.Test(uint(i)) {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

// HandshakeRejectedError indicates an incoming handshake's info-hash did
// not match the torrent this Strategy serves.
type HandshakeRejectedError struct {
	Remote core.InfoHash
	Want   core.InfoHash
}

func (e *HandshakeRejectedError) Error() string {
	return "strategy: handshake info hash " + e.Remote.Hex() + " does not match " + e.Want.Hex()
}
