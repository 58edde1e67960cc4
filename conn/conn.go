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

// Package conn owns the socket for one peer connection: a read loop and a
// write loop, each running on their own goroutine, framing wire.Messages
// over a net.Conn and feeding them to/from buffered channels. Everything
// above this package (the strategy, the event loop) only ever sees
// wire.Messages; conn is where bandwidth limiting, bytes-on-the-wire, and
// socket lifecycle live.
package conn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/utils/bandwidth"
	"github.com/nprezin/peerwire/wire"
)

// Events notifies the owner of a Conn's lifecycle.
type Events interface {
	ConnClosed(*Conn)
}

// Conn manages peer-wire communication over a single socket for a single
// torrent.
type Conn struct {
	peerID      core.PeerID
	infoHash    core.InfoHash
	createdAt   time.Time
	localPeerID core.PeerID
	bandwidth   *bandwidth.Limiter

	events Events

	mu                    sync.Mutex // Protects the following fields:
	lastGoodPieceReceived time.Time
	lastPieceSent         time.Time

	nc     net.Conn
	config Config
	clk    clock.Clock
	stats  tally.Scope

	// Marks whether the connection was opened by the remote peer, or the
	// local peer.
	openedByRemote bool

	startOnce sync.Once

	sender   chan wire.Message
	receiver chan wire.Message

	// The following fields orchestrate the closing of the connection:
	closed *atomic.Bool
	done   chan struct{}  // Signals to readLoop / writeLoop to exit.
	wg     sync.WaitGroup // Waits for readLoop / writeLoop to exit.

	logger *zap.SugaredLogger
}

// New returns a new Conn wrapping nc. Callers must call Start before the
// connection will actually read or write anything.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	limiter *bandwidth.Limiter,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	infoHash core.InfoHash,
	openedByRemote bool,
	logger *zap.SugaredLogger) (*Conn, error) {

	config = config.applyDefaults()

	// Clear any deadline set during handshake. Once a Conn is created, idle
	// connections are reaped by the event loop's own tick, not net.Conn
	// deadlines.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	now := clk.Now()
	c := &Conn{
		peerID:                remotePeerID,
		infoHash:              infoHash,
		createdAt:             now,
		localPeerID:           localPeerID,
		bandwidth:             limiter,
		events:                events,
		lastGoodPieceReceived: now,
		lastPieceSent:         now,
		nc:                    nc,
		config:                config,
		clk:                   clk,
		stats:                 stats,
		openedByRemote:        openedByRemote,
		sender:                make(chan wire.Message, config.SenderBufferSize),
		receiver:              make(chan wire.Message, config.ReceiverBufferSize),
		closed:                atomic.NewBool(false),
		done:                  make(chan struct{}),
		logger:                logger,
	}
	return c, nil
}

// Start starts message processing on c. Once started, c may close itself
// if it encounters an error reading or writing the underlying socket.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// PeerID returns the remote peer id.
func (c *Conn) PeerID() core.PeerID { return c.peerID }

// InfoHash returns the info hash of the torrent being transmitted over
// this connection.
func (c *Conn) InfoHash() core.InfoHash { return c.infoHash }

// CreatedAt returns the time at which the Conn was created.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, opened_by_remote=%t)",
		c.peerID, c.infoHash, c.openedByRemote)
}

// Send queues msg for writing to the underlying connection. Returns an
// error without blocking if the connection is closed or the sender
// channel is full.
func (c *Conn) Send(msg wire.Message) error {
	select {
	case <-c.done:
		return errors.New("conn closed")
	case c.sender <- msg:
		return nil
	default:
		c.stats.Tagged(map[string]string{
			"dropped_message_kind": fmt.Sprintf("%d", msg.Kind),
		}).Counter("dropped_messages").Inc(1)
		return errors.New("send buffer full")
	}
}

// Receiver returns a read-only channel of messages read off the
// connection.
func (c *Conn) Receiver() <-chan wire.Message { return c.receiver }

// Close starts the shutdown sequence for c. Idempotent.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		c.events.ConnClosed(c)
	}()
}

// IsClosed reports whether c has begun closing.
func (c *Conn) IsClosed() bool { return c.closed.Load() }

// readLoop reads messages off the underlying connection and forwards them
// to the receiver channel until it hits an error or c is closed.
func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			msg, err := readMessage(c.nc, c.bandwidth)
			if err != nil {
				c.log().Infof("Error reading message from socket, exiting read loop: %s", err)
				return
			}
			if msg.Kind == wire.KindPiece {
				c.countBandwidth("ingress", int64(8*len(msg.Block)))
				c.touchPieceReceived()
			}
			c.receiver <- msg
		}
	}
}

// writeLoop pulls messages off the sender channel and writes them to the
// underlying connection until it hits an error or c is closed.
func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if err := sendMessage(c.nc, c.bandwidth, msg); err != nil {
				c.log().Infof("Error writing message to socket, exiting write loop: %s", err)
				return
			}
			if msg.Kind == wire.KindPiece {
				c.countBandwidth("egress", int64(8*len(msg.Block)))
				c.touchPieceSent()
			}
		}
	}
}

func (c *Conn) touchPieceReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGoodPieceReceived = c.clk.Now()
}

func (c *Conn) touchPieceSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPieceSent = c.clk.Now()
}

func (c *Conn) countBandwidth(direction string, bits int64) {
	c.stats.Tagged(map[string]string{
		"piece_bandwidth_direction": direction,
	}).Counter("piece_bandwidth").Inc(bits)
}

func (c *Conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}
