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
	"time"

	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/wire"
)

// Handshaker performs the raw 68-byte handshake exchange that precedes
// every conn.Conn. It never touches the event loop: dialing and accepting
// both happen synchronously, off the loop goroutine, so a slow or hostile
// remote blocks only the caller, never dispatch.
type Handshaker struct {
	localPeerID core.PeerID
	timeout     time.Duration
}

// NewHandshaker returns a Handshaker identifying the local peer as
// localPeerID. Every handshake it performs is bounded by timeout.
func NewHandshaker(localPeerID core.PeerID, timeout time.Duration) *Handshaker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Handshaker{localPeerID: localPeerID, timeout: timeout}
}

// Dial opens a TCP connection to addr and performs the outbound side of
// the handshake: send first, matching the convention that the connection
// initiator speaks first. Returns the raw, handshaked net.Conn and the
// remote's peer id.
func (h *Handshaker) Dial(addr string, infoHash core.InfoHash) (net.Conn, core.PeerID, error) {
	nc, err := net.DialTimeout("tcp", addr, h.timeout)
	if err != nil {
		return nil, core.PeerID{}, fmt.Errorf("dial: %s", err)
	}
	remoteID, err := h.exchange(nc, infoHash, true)
	if err != nil {
		nc.Close()
		return nil, core.PeerID{}, err
	}
	return nc, remoteID, nil
}

// Accept performs the inbound side of the handshake over an already
// accepted net.Conn: read first, then reply, since the remote spoke first
// by dialing.
func (h *Handshaker) Accept(nc net.Conn, infoHash core.InfoHash) (core.PeerID, error) {
	return h.exchange(nc, infoHash, false)
}

func (h *Handshaker) exchange(nc net.Conn, infoHash core.InfoHash, weDialed bool) (core.PeerID, error) {
	if err := nc.SetDeadline(time.Now().Add(h.timeout)); err != nil {
		return core.PeerID{}, fmt.Errorf("set deadline: %s", err)
	}
	defer nc.SetDeadline(time.Time{})

	local := wire.Handshake{InfoHash: infoHash, PeerID: h.localPeerID}

	if weDialed {
		if err := writeHandshake(nc, local); err != nil {
			return core.PeerID{}, fmt.Errorf("write handshake: %s", err)
		}
	}

	remote, err := readHandshake(nc)
	if err != nil {
		return core.PeerID{}, fmt.Errorf("read handshake: %s", err)
	}
	if remote.InfoHash != infoHash {
		return core.PeerID{}, fmt.Errorf(
			"handshake info hash %s does not match %s", remote.InfoHash.Hex(), infoHash.Hex())
	}

	if !weDialed {
		if err := writeHandshake(nc, local); err != nil {
			return core.PeerID{}, fmt.Errorf("write handshake: %s", err)
		}
	}

	return remote.PeerID, nil
}

func writeHandshake(nc net.Conn, h wire.Handshake) error {
	buf := wire.EncodeHandshake(h)
	for len(buf) > 0 {
		n, err := nc.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func readHandshake(nc net.Conn) (wire.Handshake, error) {
	buf := make([]byte, wire.HandshakeLength)
	n := 0
	for n < len(buf) {
		m, err := nc.Read(buf[n:])
		if err != nil {
			return wire.Handshake{}, err
		}
		n += m
	}
	h, consumed, err := wire.DecodeHandshake(buf)
	if err != nil {
		return wire.Handshake{}, err
	}
	if consumed != len(buf) {
		return wire.Handshake{}, fmt.Errorf("decode did not consume full handshake")
	}
	return h, nil
}
