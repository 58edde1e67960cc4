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
package storage

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nprezin/peerwire/core"
)

func pieceHashOf(t *testing.T, data []byte) core.PieceHash {
	sum := sha1.Sum(data)
	h, err := core.NewPieceHash(sum[:])
	require.NoError(t, err)
	return h
}

func TestAddCompletesPieceOnMatchingHash(t *testing.T) {
	require := require.New(t)

	data := []byte("0123456789")
	h := pieceHashOf(t, data)
	f := NewPartialFile(10, 10, []core.PieceHash{h})

	require.False(f.HasPiece(0))

	ok, err := f.Add(0, 0, data)
	require.NoError(err)
	require.True(ok)
	require.True(f.HasPiece(0))
	require.True(f.Bitfield().Test(0))
}

func TestAddPartialWritesDoNotComplete(t *testing.T) {
	require := require.New(t)

	data := []byte("0123456789")
	h := pieceHashOf(t, data)
	f := NewPartialFile(10, 10, []core.PieceHash{h})

	ok, err := f.Add(0, 0, data[:5])
	require.NoError(err)
	require.True(ok)
	require.False(f.HasPiece(0))

	ok, err = f.Add(0, 5, data[5:])
	require.NoError(err)
	require.True(ok)
	require.True(f.HasPiece(0))
}

func TestAddRejectsOutOfRangePieceIndex(t *testing.T) {
	require := require.New(t)

	f := NewPartialFile(10, 10, []core.PieceHash{pieceHashOf(t, []byte("0123456789"))})
	_, err := f.Add(1, 0, []byte("x"))
	require.Equal(ErrPieceIndexOutOfRange, err)
}

func TestAddRejectsOffsetBeyondPieceLength(t *testing.T) {
	require := require.New(t)

	f := NewPartialFile(10, 10, []core.PieceHash{pieceHashOf(t, []byte("0123456789"))})
	_, err := f.Add(0, 8, []byte("abc"))
	require.Equal(ErrOffsetOutOfRange, err)
}

func TestAddRejectsWriteToCompletedPiece(t *testing.T) {
	require := require.New(t)

	data := []byte("0123456789")
	h := pieceHashOf(t, data)
	f := NewPartialFile(10, 10, []core.PieceHash{h})

	ok, err := f.Add(0, 0, data)
	require.NoError(err)
	require.True(ok)

	ok, err = f.Add(0, 0, data)
	require.NoError(err)
	require.False(ok)
}

func TestAddMismatchedHashLeavesPieceIncomplete(t *testing.T) {
	require := require.New(t)

	data := []byte("0123456789")
	wrongHash := pieceHashOf(t, []byte("wrong bytes"))
	f := NewPartialFile(10, 10, []core.PieceHash{wrongHash})

	ok, err := f.Add(0, 0, data)
	require.NoError(err)
	require.True(ok)
	require.False(f.HasPiece(0))

	// The piece is not complete, so a re-add of the same bytes is still
	// accepted rather than permanently rejected.
	ok, err = f.Add(0, 0, data)
	require.NoError(err)
	require.True(ok)
}

func TestReadOnlyReturnsCompletedPieces(t *testing.T) {
	require := require.New(t)

	data := []byte("0123456789")
	h := pieceHashOf(t, data)
	f := NewPartialFile(10, 10, []core.PieceHash{h})

	_, ok, err := f.Read(0, 0, 5)
	require.NoError(err)
	require.False(ok)

	_, err = f.Add(0, 0, data)
	require.NoError(err)

	block, ok, err := f.Read(0, 2, 4)
	require.NoError(err)
	require.True(ok)
	require.Equal([]byte("2345"), block)
}

func TestTailPieceShorterThanNominalLength(t *testing.T) {
	require := require.New(t)

	h0 := pieceHashOf(t, []byte("0123456789"))
	tailData := []byte("abc")
	h1 := pieceHashOf(t, tailData)

	f := NewPartialFile(10, 13, []core.PieceHash{h0, h1})
	length, err := f.PieceLengthAt(1)
	require.NoError(err)
	require.Equal(3, length)

	ok, err := f.Add(1, 0, tailData)
	require.NoError(err)
	require.True(ok)
	require.True(f.HasPiece(1))

	// Writing one byte beyond the tail's declared length must be rejected.
	_, err = f.Add(1, 0, []byte("abcd"))
	require.Equal(ErrOffsetOutOfRange, err)
}

func TestBitfieldReflectsMultipleCompletedPieces(t *testing.T) {
	require := require.New(t)

	d0 := []byte("0123456789")
	d1 := []byte("abcdefghij")
	f := NewPartialFile(10, 20, []core.PieceHash{pieceHashOf(t, d0), pieceHashOf(t, d1)})

	_, err := f.Add(0, 0, d0)
	require.NoError(err)

	bf := f.Bitfield()
	require.True(bf.Test(0))
	require.False(bf.Test(1))
	require.Equal([]int{1}, f.MissingPieces())
}
