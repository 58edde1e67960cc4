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
	"time"

	"github.com/nprezin/peerwire/conn"
	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/wire"
)

// event is a unit of work the event loop applies against its Dispatcher.
// Every mutation of the peer table, the strategy, or the piece store
// happens inside apply, which only ever runs on the event loop goroutine.
type event interface {
	apply(d *Dispatcher)
}

// eventLoop is a single-goroutine queue of events. Anything outside the
// loop goroutine that needs to touch shared state must build an event and
// send it here rather than calling in directly.
type eventLoop struct {
	events chan event
	done   chan struct{}
}

func newEventLoop(bufferSize int) *eventLoop {
	return &eventLoop{
		events: make(chan event, bufferSize),
		done:   make(chan struct{}),
	}
}

// send enqueues e, returning false if the loop has already stopped.
func (l *eventLoop) send(e event) bool {
	select {
	case l.events <- e:
		return true
	case <-l.done:
		return false
	}
}

// run processes events against d until stop is called.
func (l *eventLoop) run(d *Dispatcher) {
	for {
		select {
		case e := <-l.events:
			e.apply(d)
		case <-l.done:
			return
		}
	}
}

func (l *eventLoop) stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// newPeerEvent registers a freshly handshaked connection with the
// dispatcher, greets it per the strategy's OnHandshake reply, and starts a
// forwarding goroutine that turns the conn's inbound frames into
// inboundMessageEvents.
type newPeerEvent struct {
	nc       *conn.Conn
	infoHash core.InfoHash
}

func (e *newPeerEvent) apply(d *Dispatcher) {
	d.addPeer(e.nc, e.infoHash)
}

// inboundMessageEvent carries one frame read off a peer's connection into
// the loop for dispatch.
type inboundMessageEvent struct {
	peerID core.PeerID
	msg    wire.Message
}

func (e *inboundMessageEvent) apply(d *Dispatcher) {
	d.handleMessage(e.peerID, e.msg)
}

// connClosedEvent removes a peer from the table once its connection has
// fully torn down.
type connClosedEvent struct {
	peerID core.PeerID
}

func (e *connClosedEvent) apply(d *Dispatcher) {
	d.removePeer(e.peerID)
}

// tickEvent drives the periodic per-peer maintenance pass.
type tickEvent struct {
	now time.Time
}

func (e *tickEvent) apply(d *Dispatcher) {
	d.tick(e.now)
}

// stopEvent tears down every connection and stops the loop. Built as a
// regular event (rather than closing done directly) so any events already
// queued ahead of it are drained first.
type stopEvent struct {
	result chan struct{}
}

func (e *stopEvent) apply(d *Dispatcher) {
	d.closeAll()
	close(e.result)
	d.loop.stop()
}
