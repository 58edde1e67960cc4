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

// Package storage implements the in-memory partial-file / piece store: a
// piece-indexed blob accumulator with per-piece SHA-1 verification that
// exposes the local bitfield to the strategy. Disk persistence is an
// external collaborator the core never reaches for.
package storage

import (
	"sync"

	"github.com/willf/bitset"

	"github.com/nprezin/peerwire/core"
)

type pieceStatus int

const (
	statusEmpty pieceStatus = iota
	statusDirty
	statusComplete
)

type piece struct {
	mu     sync.RWMutex
	status pieceStatus
	data   []byte
	hash   core.PieceHash
	length int
}

func (p *piece) isComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == statusComplete
}

// PartialFile is the piece-indexed blob accumulator for a single torrent's
// content. It owns no storage beyond process memory: a production
// deployment plugs a block store behind an equivalent interface.
type PartialFile struct {
	pieceLength int64
	totalLength int64
	pieces      []*piece

	bitfieldMu sync.Mutex
	bitfield   *bitset.BitSet
}

// NewPartialFile constructs a PartialFile for a torrent whose pieces must
// match hashes, each pieceLength bytes except the final one, which is
// sized so that the pieces exactly cover totalLength bytes.
func NewPartialFile(pieceLength int64, totalLength int64, hashes []core.PieceHash) *PartialFile {
	pieces := make([]*piece, len(hashes))
	for i, h := range hashes {
		pieces[i] = &piece{
			status: statusEmpty,
			hash:   h,
			length: int(pieceLengthAt(i, len(hashes), pieceLength, totalLength)),
		}
	}
	return &PartialFile{
		pieceLength: pieceLength,
		totalLength: totalLength,
		pieces:      pieces,
		bitfield:    bitset.New(uint(len(hashes))),
	}
}

func pieceLengthAt(i, numPieces int, pieceLength, totalLength int64) int64 {
	if i < numPieces-1 {
		return pieceLength
	}
	return totalLength - int64(numPieces-1)*pieceLength
}

// PieceCount returns the number of pieces in the file.
func (f *PartialFile) PieceCount() int {
	return len(f.pieces)
}

// PieceLength returns the nominal (non-tail) piece length.
func (f *PartialFile) PieceLength() int64 {
	return f.pieceLength
}

// PieceLengthAt returns the expected length of piece i, accounting for the
// shorter tail piece.
func (f *PartialFile) PieceLengthAt(i int) (int, error) {
	if i < 0 || i >= len(f.pieces) {
		return 0, ErrPieceIndexOutOfRange
	}
	return f.pieces[i].length, nil
}

// Add writes bytes at offset within piece i. It accepts the write iff i is
// in range, the piece is not already complete, and offset+len(bytes) does
// not exceed the piece's declared length. The piece buffer is zero-extended
// up to offset+len(bytes) as needed. When the write completes the piece's
// full declared length, its SHA-1 is checked against the expected hash: on
// match the piece transitions to complete and the derived bitfield bit is
// set; on mismatch the piece is left dirty with the mismatched bytes still
// in place, so a subsequent Add for the same range overwrites them rather
// than the piece resetting to empty.
func (f *PartialFile) Add(i int, offset int, bytes []byte) (bool, error) {
	if i < 0 || i >= len(f.pieces) {
		return false, ErrPieceIndexOutOfRange
	}
	p := f.pieces[i]

	p.mu.Lock()
	if offset < 0 || offset+len(bytes) > p.length {
		p.mu.Unlock()
		return false, ErrOffsetOutOfRange
	}
	if p.status == statusComplete {
		p.mu.Unlock()
		return false, nil
	}
	if len(p.data) < offset+len(bytes) {
		grown := make([]byte, offset+len(bytes))
		copy(grown, p.data)
		p.data = grown
	}
	copy(p.data[offset:], bytes)
	p.status = statusDirty

	complete := len(p.data) == p.length && p.hash.Matches(p.data)
	if complete {
		p.status = statusComplete
	}
	p.mu.Unlock()

	if complete {
		f.bitfieldMu.Lock()
		f.bitfield.Set(uint(i))
		f.bitfieldMu.Unlock()
	}
	return true, nil
}

// Read returns the byte range [begin, begin+length) of piece i, only if
// the piece is complete.
func (f *PartialFile) Read(i, begin, length int) ([]byte, bool, error) {
	if i < 0 || i >= len(f.pieces) {
		return nil, false, ErrPieceIndexOutOfRange
	}
	p := f.pieces[i]

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.status != statusComplete {
		return nil, false, nil
	}
	if begin < 0 || begin+length > len(p.data) {
		return nil, false, ErrOffsetOutOfRange
	}
	out := make([]byte, length)
	copy(out, p.data[begin:begin+length])
	return out, true, nil
}

// HasPiece reports whether piece i is complete and hash-verified.
func (f *PartialFile) HasPiece(i int) bool {
	if i < 0 || i >= len(f.pieces) {
		return false
	}
	return f.pieces[i].isComplete()
}

// Bitfield returns a snapshot of the derived local bitfield.
func (f *PartialFile) Bitfield() *bitset.BitSet {
	f.bitfieldMu.Lock()
	defer f.bitfieldMu.Unlock()
	return f.bitfield.Clone()
}

// MissingPieces returns the indices of every piece not yet complete.
func (f *PartialFile) MissingPieces() []int {
	var missing []int
	for i, p := range f.pieces {
		if !p.isComplete() {
			missing = append(missing, i)
		}
	}
	return missing
}
