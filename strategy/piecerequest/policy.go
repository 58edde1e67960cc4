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

// Package piecerequest tracks in-flight piece requests per peer and decides
// which pieces to request next.
package piecerequest

import (
	"github.com/willf/bitset"

	"github.com/nprezin/peerwire/utils/syncutil"
)

// pieceSelectionPolicy picks which pieces to request next out of a set of
// candidates, given how rare each piece is across known peers.
// If 'valid' is not thread-safe, the caller must handle locking.
type pieceSelectionPolicy interface {
	selectPieces(
		limit int,
		valid func(int) bool,
		candidates *bitset.BitSet,
		numPeersByPiece syncutil.Counters) ([]int, error)
}
