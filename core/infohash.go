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
package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// InfoHash is 20-byte SHA1 hash of the Info struct. It is the authoritative
// identifier for a torrent.
type InfoHash [20]byte

// NewInfoHashFromHex converts a hexidemical string into an InfoHash
func NewInfoHashFromHex(s string) (InfoHash, error) {
	if len(s) != 40 {
		return InfoHash{}, fmt.Errorf("invalid hash: expected 40 characters, got %d", len(s))
	}
	var h InfoHash
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
	}
	if n != 20 {
		return InfoHash{}, fmt.Errorf("invariant violation: expected 20 bytes, got %d", n)
	}
	return h, nil
}

// NewInfoHashFromBytes computes the InfoHash of the given content, i.e.
// SHA-1(b). Used to derive an info-hash from the raw bytes of an info
// dictionary.
func NewInfoHashFromBytes(b []byte) InfoHash {
	var h InfoHash
	hasher := sha1.New()
	hasher.Write(b)
	copy(h[:], hasher.Sum(nil))
	return h
}

// NewInfoHashFromRaw copies b (which must be exactly 20 bytes) directly
// into an InfoHash, with no hashing. Used where a peer or tracker already
// carries a literal 20-byte info-hash, such as the wire handshake.
func NewInfoHashFromRaw(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != 20 {
		return h, fmt.Errorf("invalid info hash: expected 20 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Bytes converts h to raw bytes.
func (h InfoHash) Bytes() []byte {
	return h[:]
}

// Hex converts h into a hexidemical string.
func (h InfoHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h InfoHash) String() string {
	return h.Hex()
}

// PieceHash is the 20-byte SHA-1 digest a piece's payload must match before
// it is considered complete. It shares InfoHash's representation but is a
// distinct type so the two are never interchanged by accident.
type PieceHash [20]byte

// NewPieceHash copies b (which must be 20 bytes) into a PieceHash.
func NewPieceHash(b []byte) (PieceHash, error) {
	var h PieceHash
	if len(b) != 20 {
		return h, fmt.Errorf("invalid piece hash: expected 20 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Bytes converts h to raw bytes.
func (h PieceHash) Bytes() []byte {
	return h[:]
}

// Matches reports whether the SHA-1 digest of data equals h.
func (h PieceHash) Matches(data []byte) bool {
	sum := sha1.Sum(data)
	return sum == [20]byte(h)
}

func (h PieceHash) String() string {
	return hex.EncodeToString(h[:])
}
