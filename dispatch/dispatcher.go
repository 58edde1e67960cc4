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
package dispatch

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nprezin/peerwire/conn"
	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/peerstate"
	"github.com/nprezin/peerwire/storage"
	"github.com/nprezin/peerwire/strategy"
	"github.com/nprezin/peerwire/utils/bandwidth"
	"github.com/nprezin/peerwire/wire"
)

// peerEntry pairs the two halves of a connected peer the loop goroutine
// owns: the PeerState the strategy mutates, and the Conn frames are sent
// and received over.
type peerEntry struct {
	state *peerstate.PeerState
	conn  *conn.Conn
}

// Dispatcher drives one torrent's worth of peer connections through a
// single event loop goroutine. It owns the only reference to the
// strategy.Strategy and storage.PartialFile that its peers share, so
// neither one needs its own synchronization: every call into either
// happens while processing an event on the loop goroutine.
type Dispatcher struct {
	infoHash    core.InfoHash
	localPeerID core.PeerID
	config      Config

	strategy   *strategy.Strategy
	handshaker *Handshaker
	limiter    *bandwidth.Limiter

	stats tally.Scope
	clk   clock.Clock
	log   *zap.SugaredLogger

	numPieces int

	loop   *eventLoop
	peers  map[core.PeerID]*peerEntry
	nextID peerstate.ID

	stopTick chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
}

// New constructs a Dispatcher for one torrent. local is the piece store
// the strategy reads and writes as blocks arrive; it must already be sized
// for the torrent's full piece count.
func New(
	infoHash core.InfoHash,
	localPeerID core.PeerID,
	local *storage.PartialFile,
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	logger *zap.SugaredLogger) (*Dispatcher, error) {

	config = config.applyDefaults()

	strat, err := strategy.New(infoHash, local, clk, config.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s", err)
	}

	limiter, err := bandwidth.NewLimiter(config.Conn.Bandwidth)
	if err != nil {
		return nil, fmt.Errorf("bandwidth: %s", err)
	}

	stats = stats.Tagged(map[string]string{"module": "dispatch"})

	return &Dispatcher{
		infoHash:    infoHash,
		localPeerID: localPeerID,
		config:      config,
		strategy:    strat,
		handshaker:  NewHandshaker(localPeerID, config.Conn.HandshakeTimeout),
		limiter:     limiter,
		stats:       stats,
		clk:         clk,
		log:         logger,
		numPieces:   local.PieceCount(),
		loop:        newEventLoop(config.EventBufferSize),
		peers:       make(map[core.PeerID]*peerEntry),
		stopTick:    make(chan struct{}),
	}, nil
}

// Start begins processing events and periodic ticks. Must be called
// exactly once before Dial or AcceptConn.
func (d *Dispatcher) Start() {
	if !d.started.CAS(false, true) {
		return
	}
	go d.loop.run(d)
	d.wg.Add(1)
	go d.tickLoop()
}

// Stop closes every connection and halts the event loop. Idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopTick)
		result := make(chan struct{})
		if !d.loop.send(&stopEvent{result: result}) {
			return
		}
		<-result
		d.wg.Wait()
	})
}

// Dial opens a connection to addr, performs the handshake, and registers
// the resulting peer with the event loop. Blocks until the handshake
// completes or times out; the registration itself is asynchronous.
func (d *Dispatcher) Dial(addr string) error {
	nc, remoteID, err := d.handshaker.Dial(addr, d.infoHash)
	if err != nil {
		return err
	}
	return d.register(nc, remoteID, false)
}

// AcceptConn performs the inbound handshake over an already-accepted
// net.Conn and registers the resulting peer with the event loop.
func (d *Dispatcher) AcceptConn(nc net.Conn) error {
	remoteID, err := d.handshaker.Accept(nc, d.infoHash)
	if err != nil {
		nc.Close()
		return err
	}
	return d.register(nc, remoteID, true)
}

func (d *Dispatcher) register(nc net.Conn, remoteID core.PeerID, openedByRemote bool) error {
	c, err := conn.New(
		d.config.Conn, d.stats, d.clk, d.limiter, d, nc,
		d.localPeerID, remoteID, d.infoHash, openedByRemote, d.log)
	if err != nil {
		nc.Close()
		return fmt.Errorf("new conn: %s", err)
	}
	c.Start()
	if !d.loop.send(&newPeerEvent{nc: c, infoHash: d.infoHash}) {
		c.Close()
		return fmt.Errorf("dispatch: event loop stopped")
	}
	return nil
}

// ConnClosed implements conn.Events. Invoked from the Conn's own closing
// goroutine, never from the loop goroutine, so it must only ever enqueue
// an event rather than touch the peer table directly.
func (d *Dispatcher) ConnClosed(c *conn.Conn) {
	d.loop.send(&connClosedEvent{peerID: c.PeerID()})
}

// addPeer runs on the loop goroutine. It greets the new peer per the
// strategy's handshake reply and starts the goroutine that forwards its
// inbound frames back into the loop.
func (d *Dispatcher) addPeer(c *conn.Conn, infoHash core.InfoHash) {
	d.nextID++
	state := peerstate.New(d.nextID, d.numPieces, d.clk)

	greeting, err := d.strategy.OnHandshake(state, infoHash)
	if err != nil {
		d.log.With("remote_peer", c.PeerID()).Infof("Rejecting handshake: %s", err)
		c.Close()
		return
	}

	d.peers[c.PeerID()] = &peerEntry{state: state, conn: c}
	d.wg.Add(1)
	go d.forwardFrames(c)

	d.sendAll(c.PeerID(), greeting)
}

// forwardFrames relays frames read off c into the loop as events until c's
// receiver channel closes (Conn shutting down). It never touches shared
// state itself.
func (d *Dispatcher) forwardFrames(c *conn.Conn) {
	defer d.wg.Done()
	for msg := range c.Receiver() {
		d.loop.send(&inboundMessageEvent{peerID: c.PeerID(), msg: msg})
	}
}

// handleMessage runs on the loop goroutine, dispatching msg to the
// strategy method for its kind and writing back any resulting messages.
func (d *Dispatcher) handleMessage(peerID core.PeerID, msg wire.Message) {
	entry, ok := d.peers[peerID]
	if !ok {
		return
	}
	entry.state.Touch(d.clk.Now(), true)

	switch msg.Kind {
	case wire.KindKeepAlive:

	case wire.KindChoke:
		d.strategy.OnChoke(entry.state)

	case wire.KindUnchoke:
		d.strategy.OnUnchoke(entry.state)

	case wire.KindInterested:
		d.strategy.OnInterested(entry.state)

	case wire.KindNotInterested:
		d.strategy.OnNotInterested(entry.state)

	case wire.KindHave:
		msgs, err := d.strategy.OnHave(entry.state, int(msg.Index))
		if err != nil {
			d.log.With("remote_peer", peerID).Infof("Error handling have: %s", err)
			return
		}
		d.sendAll(peerID, msgs)

	case wire.KindBitfield:
		d.strategy.OnBitfield(entry.state, msg.Bits)

	case wire.KindRequest:
		reply, err := d.strategy.OnRequest(
			entry.state, int(msg.Index), int(msg.Begin), int(msg.Length))
		if err != nil {
			d.log.With("remote_peer", peerID).Infof("Error serving request: %s", err)
			return
		}
		if reply != nil {
			d.sendAll(peerID, []wire.Message{*reply})
		}

	case wire.KindPiece:
		completed, err := d.strategy.OnPiece(
			entry.state, entry.state.ID, int(msg.Index), int(msg.Begin), msg.Block)
		if err != nil {
			d.log.With("remote_peer", peerID).Infof("Error storing piece: %s", err)
			return
		}
		if completed {
			d.broadcastHave(int(msg.Index))
		}

	case wire.KindCancel:
		d.strategy.OnCancel(entry.state, int(msg.Index), int(msg.Begin), int(msg.Length))

	case wire.KindPort:
		d.strategy.OnPort(entry.state, uint16(msg.Port))
	}
}

// broadcastHave notifies every registered peer that piece i has completed.
func (d *Dispatcher) broadcastHave(i int) {
	have := wire.Message{Kind: wire.KindHave, Index: uint32(i)}
	for peerID := range d.peers {
		d.sendAll(peerID, []wire.Message{have})
	}
}

// tick runs the periodic maintenance pass across every connected peer.
func (d *Dispatcher) tick(now time.Time) {
	for peerID, entry := range d.peers {
		msgs, disconnect := d.strategy.OnTick(entry.state, now)
		if disconnect {
			entry.conn.Close()
			continue
		}
		d.sendAll(peerID, msgs)
	}
}

// sendAll writes msgs to peerID's connection, in order, dropping the peer
// entirely if any send fails.
func (d *Dispatcher) sendAll(peerID core.PeerID, msgs []wire.Message) {
	entry, ok := d.peers[peerID]
	if !ok {
		return
	}
	for _, msg := range msgs {
		if err := entry.conn.Send(msg); err != nil {
			d.log.With("remote_peer", peerID).Infof("Error sending message, closing: %s", err)
			entry.conn.Close()
			return
		}
		entry.state.Touch(d.clk.Now(), false)
	}
}

// removePeer runs on the loop goroutine once a Conn has finished closing. It
// releases every piece reservation held by peerID before forgetting it, so
// pieces it had in flight are immediately re-requestable from other peers.
func (d *Dispatcher) removePeer(peerID core.PeerID) {
	entry, ok := d.peers[peerID]
	if !ok {
		return
	}
	d.strategy.OnDisconnect(entry.state)
	entry.state.MarkDisconnected()
	delete(d.peers, peerID)
}

// closeAll closes every connected peer's Conn. Run as part of stopEvent,
// on the loop goroutine.
func (d *Dispatcher) closeAll() {
	for _, entry := range d.peers {
		entry.conn.Close()
	}
}

// tickLoop periodically enqueues a tickEvent until the Dispatcher stops.
func (d *Dispatcher) tickLoop() {
	defer d.wg.Done()

	ticker := d.clk.Ticker(d.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			d.loop.send(&tickEvent{now: now})
		case <-d.stopTick:
			return
		}
	}
}
