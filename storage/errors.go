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

import "errors"

// ErrPieceIndexOutOfRange is returned when a piece index is not in
// [0, PieceCount).
var ErrPieceIndexOutOfRange = errors.New("storage: piece index out of range")

// ErrOffsetOutOfRange is returned when a read or write range falls outside
// a piece's declared length.
var ErrOffsetOutOfRange = errors.New("storage: offset out of range")
