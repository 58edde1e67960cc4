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
package conn

import (
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/utils/bandwidth"
	"github.com/nprezin/peerwire/wire"
)

type noopEvents struct{}

func (e noopEvents) ConnClosed(*Conn) {}

// noopDeadline wraps a net.Conn that does not support deadlines (net.Pipe)
// so Conn's SetDeadline(zero) call on construction succeeds.
type noopDeadline struct {
	net.Conn
}

func (n noopDeadline) SetDeadline(t time.Time) error      { return nil }
func (n noopDeadline) SetReadDeadline(t time.Time) error  { return nil }
func (n noopDeadline) SetWriteDeadline(t time.Time) error { return nil }

func unlimitedBandwidth(t *testing.T) *bandwidth.Limiter {
	l, err := bandwidth.NewLimiter(bandwidth.Config{Enable: false})
	require.NoError(t, err)
	return l
}

func newPipe(t *testing.T) (local *Conn, remote *Conn, cleanup func()) {
	nc1, nc2 := net.Pipe()

	infoHash := core.InfoHash{}
	localID, err := core.RandomPeerID()
	require.NoError(t, err)
	remoteID, err := core.RandomPeerID()
	require.NoError(t, err)

	local, err = New(
		ConfigFixture(), tally.NewTestScope("", nil), clock.New(), unlimitedBandwidth(t),
		noopEvents{}, noopDeadline{nc1}, localID, remoteID, infoHash, false, zap.NewNop().Sugar())
	require.NoError(t, err)
	local.Start()

	remote, err = New(
		ConfigFixture(), tally.NewTestScope("", nil), clock.New(), unlimitedBandwidth(t),
		noopEvents{}, noopDeadline{nc2}, remoteID, localID, infoHash, true, zap.NewNop().Sugar())
	require.NoError(t, err)
	remote.Start()

	return local, remote, func() {
		local.Close()
		remote.Close()
	}
}

// ConfigFixture returns a Config for testing.
func ConfigFixture() Config {
	return Config{}.applyDefaults()
}

func TestConnSendReceivesOnOtherSide(t *testing.T) {
	require := require.New(t)

	local, remote, cleanup := newPipe(t)
	defer cleanup()

	require.NoError(local.Send(wire.Message{Kind: wire.KindInterested}))

	select {
	case msg := <-remote.Receiver():
		require.Equal(wire.KindInterested, msg.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnSendAndReceivePiece(t *testing.T) {
	require := require.New(t)

	local, remote, cleanup := newPipe(t)
	defer cleanup()

	block := []byte("hello world")
	require.NoError(local.Send(wire.Message{Kind: wire.KindPiece, Index: 3, Begin: 0, Block: block}))

	select {
	case msg := <-remote.Receiver():
		require.Equal(wire.KindPiece, msg.Kind)
		require.Equal(uint32(3), msg.Index)
		require.Equal(block, msg.Block)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for piece")
	}
}

func TestConnCloseStopsBothLoops(t *testing.T) {
	require := require.New(t)

	local, _, cleanup := newPipe(t)
	defer cleanup()

	local.Close()
	require.True(local.IsClosed())

	err := local.Send(wire.Message{Kind: wire.KindChoke})
	require.Error(err)
}

func TestConnSendBufferFullReturnsError(t *testing.T) {
	require := require.New(t)

	nc1, nc2 := net.Pipe()
	defer nc1.Close()
	defer nc2.Close()

	localID, err := core.RandomPeerID()
	require.NoError(err)
	remoteID, err := core.RandomPeerID()
	require.NoError(err)

	c, err := New(
		Config{SenderBufferSize: 1}.applyDefaults(), tally.NewTestScope("", nil), clock.New(),
		unlimitedBandwidth(t), noopEvents{}, noopDeadline{nc1}, localID, remoteID, core.InfoHash{},
		false, zap.NewNop().Sugar())
	require.NoError(err)
	// Do not Start c, so nothing ever drains the sender channel.

	require.NoError(c.Send(wire.Message{Kind: wire.KindChoke}))
	require.Error(c.Send(wire.Message{Kind: wire.KindChoke}))
}
