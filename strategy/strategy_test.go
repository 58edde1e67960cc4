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
package strategy

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/nprezin/peerwire/core"
	"github.com/nprezin/peerwire/peerstate"
	"github.com/nprezin/peerwire/storage"
	"github.com/nprezin/peerwire/wire"
)

const testPieceLength = 8

func newTestFile(t *testing.T, numPieces int) (*storage.PartialFile, [][]byte) {
	t.Helper()

	contents := make([][]byte, numPieces)
	hashes := make([]core.PieceHash, numPieces)
	for i := range contents {
		data := make([]byte, testPieceLength)
		for j := range data {
			data[j] = byte(i*testPieceLength + j)
		}
		contents[i] = data
		sum := sha1.Sum(data)
		h, err := core.NewPieceHash(sum[:])
		require.NoError(t, err)
		hashes[i] = h
	}
	return storage.NewPartialFile(testPieceLength, int64(numPieces*testPieceLength), hashes), contents
}

func testInfoHash() core.InfoHash {
	ih, _ := core.NewInfoHashFromHex("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	return ih
}

func TestOnHandshakeMatchingInfoHashSendsGreeting(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 2)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clock.New())
	msgs, err := s.OnHandshake(p, testInfoHash())
	require.NoError(err)
	require.True(p.HandshakeReceived())

	require.Len(msgs, 3)
	require.Equal(wire.KindUnchoke, msgs[0].Kind)
	require.Equal(wire.KindInterested, msgs[1].Kind)
	require.Equal(wire.KindBitfield, msgs[2].Kind)
}

func TestOnHandshakeMismatchedInfoHashRejects(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 2)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	other, _ := core.NewInfoHashFromHex("0000000000000000000000000000000000000f")
	p := peerstate.New(1, f.PieceCount(), clock.New())
	_, err = s.OnHandshake(p, other)
	require.Error(err)
	require.False(p.HandshakeReceived())
}

func TestOnHaveRequestsPieceWhenUnchoked(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 2)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clock.New())
	p.SetTheyChokeUs(false)

	msgs, err := s.OnHave(p, 0)
	require.NoError(err)
	require.True(p.RemoteBitfield().Has(0))
	require.Equal(1, p.Score())

	require.Len(msgs, 1)
	require.Equal(wire.KindRequest, msgs[0].Kind)
	require.Equal(uint32(0), msgs[0].Index)
	require.Equal(uint32(testPieceLength), msgs[0].Length)
}

func TestOnHaveDoesNotRequestWhileChoked(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 2)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clock.New())
	// Default state: they-choke-us == true.

	msgs, err := s.OnHave(p, 0)
	require.NoError(err)
	require.Empty(msgs)
}

func TestOnBitfieldScoresAndReplaces(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 8)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clock.New())
	s.OnBitfield(p, []byte{0x80})
	require.True(p.RemoteBitfield().Has(0))
	require.False(p.RemoteBitfield().Has(1))
	require.Equal(10, p.Score())
}

func TestOnRequestServesCompletePiece(t *testing.T) {
	require := require.New(t)

	f, contents := newTestFile(t, 2)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	ok, err := f.Add(0, 0, contents[0])
	require.NoError(err)
	require.True(ok)

	p := peerstate.New(1, f.PieceCount(), clock.New())
	p.SetWeChokeThem(false)

	msg, err := s.OnRequest(p, 0, 0, testPieceLength)
	require.NoError(err)
	require.NotNil(msg)
	require.Equal(wire.KindPiece, msg.Kind)
	require.Equal(contents[0], msg.Block)
	require.Equal(1, p.Score())
}

func TestOnRequestRefusesWhileChokingThem(t *testing.T) {
	require := require.New(t)

	f, contents := newTestFile(t, 2)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	_, err = f.Add(0, 0, contents[0])
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clock.New())
	// Default state: we-choke-them == true.

	msg, err := s.OnRequest(p, 0, 0, testPieceLength)
	require.NoError(err)
	require.Nil(msg)
}

func TestOnPieceCompletesAndReportsOnce(t *testing.T) {
	require := require.New(t)

	f, contents := newTestFile(t, 1)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clock.New())

	completed, err := s.OnPiece(p, p.ID, 0, 0, contents[0])
	require.NoError(err)
	require.True(completed)
	require.True(f.HasPiece(0))
	require.Equal(5, p.Score())
}

func TestOnPieceInvalidHashDoesNotComplete(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 1)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clock.New())

	completed, err := s.OnPiece(p, p.ID, 0, 0, make([]byte, testPieceLength))
	require.NoError(err)
	require.False(completed)
	require.False(f.HasPiece(0))
}

func TestOnDisconnectReleasesReservationForOtherPeers(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 1)
	s, err := New(testInfoHash(), f, clock.New(), time.Minute)
	require.NoError(err)

	p1 := peerstate.New(1, f.PieceCount(), clock.New())
	p1.SetTheyChokeUs(false)
	msgs, err := s.OnHave(p1, 0)
	require.NoError(err)
	require.Len(msgs, 1)

	p2 := peerstate.New(2, f.PieceCount(), clock.New())
	p2.SetTheyChokeUs(false)
	msgs, err = s.OnHave(p2, 0)
	require.NoError(err)
	require.Empty(msgs, "piece 0 is already reserved to p1")

	s.OnDisconnect(p1)

	msgs, err = s.OnHave(p2, 0)
	require.NoError(err)
	require.Len(msgs, 1, "piece 0 must be re-requestable once p1's reservation is cleared")
}

func TestOnTickDisconnectsSilentPeer(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 1)
	clk := clock.NewMock()
	s, err := New(testInfoHash(), f, clk, time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clk)
	clk.Add(6 * time.Minute)

	_, disconnect := s.OnTick(p, clk.Now())
	require.True(disconnect)
}

func TestOnTickSendsKeepAliveWhenQuiet(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFile(t, 1)
	clk := clock.NewMock()
	s, err := New(testInfoHash(), f, clk, time.Minute)
	require.NoError(err)

	p := peerstate.New(1, f.PieceCount(), clk)
	clk.Add(31 * time.Second)

	msgs, disconnect := s.OnTick(p, clk.Now())
	require.False(disconnect)
	require.Len(msgs, 1)
	require.Equal(wire.KindKeepAlive, msgs[0].Kind)
}
