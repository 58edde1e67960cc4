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
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/nprezin/peerwire/utils/bandwidth"
	"github.com/nprezin/peerwire/wire"
)

// readMessage blocks until a full frame has been read off nc. Piece frames
// reserve ingress bandwidth for their payload before the block is read off
// the socket, so a saturated limiter throttles the read instead of letting
// an unbounded amount of payload land in memory first.
func readMessage(nc net.Conn, limiter *bandwidth.Limiter) (wire.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(nc, lenBuf[:]); err != nil {
		return wire.Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return wire.Message{Kind: wire.KindKeepAlive}, nil
	}

	var idBuf [1]byte
	if _, err := io.ReadFull(nc, idBuf[:]); err != nil {
		return wire.Message{}, err
	}
	isPiece := wire.ID(idBuf[0]) == wire.IDPiece
	limit := uint32(wire.MaxNonPieceLength)
	if isPiece {
		limit = uint32(wire.MaxPieceLength)
	}
	if length > limit {
		return wire.Message{}, &wire.LengthExceedsCapError{Declared: length, Cap: limit}
	}

	payloadLen := length - 1
	if isPiece {
		if err := limiter.ReserveIngress(int64(payloadLen)); err != nil {
			return wire.Message{}, err
		}
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(nc, payload); err != nil {
		return wire.Message{}, err
	}

	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, idBuf[0])
	frame = append(frame, payload...)

	msg, n, err := wire.Decode(frame, uint32(wire.MaxNonPieceLength), uint32(wire.MaxPieceLength))
	if err != nil {
		return wire.Message{}, err
	}
	if n != len(frame) {
		return wire.Message{}, errors.New("conn: decode did not consume full frame")
	}
	return msg, nil
}

// sendMessage writes msg to nc. Piece frames reserve egress bandwidth for
// their block before writing any bytes.
func sendMessage(nc net.Conn, limiter *bandwidth.Limiter, msg wire.Message) error {
	if msg.Kind == wire.KindPiece {
		if err := limiter.ReserveEgress(int64(len(msg.Block))); err != nil {
			return err
		}
	}
	frame := wire.Encode(msg)
	for len(frame) > 0 {
		n, err := nc.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}
