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
package piecerequest

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"

	"github.com/stretchr/testify/require"

	"github.com/nprezin/peerwire/peerstate"
	"github.com/nprezin/peerwire/utils/syncutil"
)

func newManager(clk clock.Clock, timeout time.Duration, policy string, pieceLimit int, byteLimit, pieceLen int64) *Manager {
	m, err := NewManager(clk, timeout, policy, pieceLimit, byteLimit, pieceLen)
	if err != nil {
		panic(err)
	}
	return m
}

func bitsetFromBools(bs ...bool) *bitset.BitSet {
	b := bitset.New(uint(len(bs)))
	for i, v := range bs {
		if v {
			b.Set(uint(i))
		}
	}
	return b
}

func countsFromInts(priorities ...int) syncutil.Counters {
	c := syncutil.NewCounters(len(priorities))
	for i, p := range priorities {
		c.Set(i, p)
	}
	return c
}

func TestManagerPieceLimit(t *testing.T) {
	require := require.New(t)

	m := newManager(clock.NewMock(), 5*time.Second, DefaultPolicy, 3, 0, 0)

	pieces, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true, true, true, true),
		countsFromInts(0, 0, 0, 0), false)
	require.NoError(err)
	require.Len(pieces, 3)

	more, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true, true, true, true),
		countsFromInts(0, 0, 0, 0), false)
	require.NoError(err)
	require.Empty(more)
}

func TestManagerByteLimit(t *testing.T) {
	require := require.New(t)

	// 512KiB budget / 256KiB pieces = quota of 2, tighter than the piece limit of 10.
	m := newManager(clock.NewMock(), 5*time.Second, DefaultPolicy, 10, 512*1024, 256*1024)

	pieces, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true, true, true, true),
		countsFromInts(0, 0, 0, 0), false)
	require.NoError(err)
	require.Len(pieces, 2)
}

func TestManagerRarestFirstPrefersFewestPeers(t *testing.T) {
	require := require.New(t)

	m := newManager(clock.NewMock(), 5*time.Second, RarestFirstPolicy, 1, 0, 0)

	pieces, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true, true, true),
		countsFromInts(5, 1, 3), false)
	require.NoError(err)
	require.Equal([]int{1}, pieces)
}

func TestManagerDoesNotDuplicateAcrossPeersByDefault(t *testing.T) {
	require := require.New(t)

	m := newManager(clock.NewMock(), 5*time.Second, DefaultPolicy, 10, 0, 0)

	_, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true), countsFromInts(0), false)
	require.NoError(err)

	pieces, err := m.ReservePieces(peerstate.ID(2), bitsetFromBools(true), countsFromInts(0), false)
	require.NoError(err)
	require.Empty(pieces)
}

func TestManagerClearFreesUpPiece(t *testing.T) {
	require := require.New(t)

	m := newManager(clock.NewMock(), 5*time.Second, DefaultPolicy, 10, 0, 0)

	_, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true), countsFromInts(0), false)
	require.NoError(err)

	m.Clear(0)

	pieces, err := m.ReservePieces(peerstate.ID(2), bitsetFromBools(true), countsFromInts(0), false)
	require.NoError(err)
	require.Equal([]int{0}, pieces)
}

func TestManagerExpiredRequestsAreReleasable(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := newManager(clk, 5*time.Second, DefaultPolicy, 10, 0, 0)

	_, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true), countsFromInts(0), false)
	require.NoError(err)

	clk.Add(10 * time.Second)

	pieces, err := m.ReservePieces(peerstate.ID(2), bitsetFromBools(true), countsFromInts(0), false)
	require.NoError(err)
	require.Equal([]int{0}, pieces)
}

func TestManagerClearPeerRemovesAllOfPeersRequests(t *testing.T) {
	require := require.New(t)

	m := newManager(clock.NewMock(), 5*time.Second, DefaultPolicy, 10, 0, 0)

	_, err := m.ReservePieces(peerstate.ID(1), bitsetFromBools(true, true), countsFromInts(0, 0), false)
	require.NoError(err)
	require.Len(m.PendingPieces(peerstate.ID(1)), 2)

	m.ClearPeer(peerstate.ID(1))
	require.Empty(m.PendingPieces(peerstate.ID(1)))
}

func TestNewManagerRejectsUnknownPolicy(t *testing.T) {
	require := require.New(t)

	_, err := NewManager(clock.NewMock(), time.Second, "bogus", 1, 0, 0)
	require.Error(err)
}
