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

// Package wire implements the BitTorrent peer-wire framing: the 68-byte
// handshake and the length-prefixed binary messages that follow it. The
// decoder is a pure stream consumer over an in-memory buffer — it never
// blocks and never consumes input it cannot fully parse, so it composes
// with any I/O model the caller chooses (goroutine-per-connection here;
// an epoll-style reactor would call it identically).
package wire

import "encoding/binary"

// ID identifies a peer-wire message type.
type ID uint8

// Message ids, per BitTorrent v1.
const (
	IDChoke         ID = 0
	IDUnchoke       ID = 1
	IDInterested    ID = 2
	IDNotInterested ID = 3
	IDHave          ID = 4
	IDBitfield      ID = 5
	IDRequest       ID = 6
	IDPiece         ID = 7
	IDCancel        ID = 8
	IDPort          ID = 9
)

// MaxBlock is the canonical request/piece block size, 16 KiB.
const MaxBlock = 1 << 14

// MaxNonPieceLength is the per-connection cap on a non-Piece frame's
// declared length; frames claiming more are rejected without trusting the
// remote's length field.
const MaxNonPieceLength = 1 << 20

// MaxPieceLength is the per-connection cap on a Piece frame's declared
// length (9-byte header plus block).
const MaxPieceLength = 1<<17 + 9

// Message is a decoded peer-wire message. KeepAlive is represented as a
// Message with Kind == KindKeepAlive and no other fields meaningful.
type Message struct {
	Kind   Kind
	Index  uint32
	Begin  uint32
	Length uint32
	Block  []byte
	Bits   []byte
	Port   uint16
}

// Kind discriminates the Message variants, including the zero-length
// KeepAlive frame which has no wire message id of its own.
type Kind int

// Message kinds.
const (
	KindKeepAlive Kind = iota
	KindChoke
	KindUnchoke
	KindInterested
	KindNotInterested
	KindHave
	KindBitfield
	KindRequest
	KindPiece
	KindCancel
	KindPort
)

func kindFromID(id ID) (Kind, bool) {
	switch id {
	case IDChoke:
		return KindChoke, true
	case IDUnchoke:
		return KindUnchoke, true
	case IDInterested:
		return KindInterested, true
	case IDNotInterested:
		return KindNotInterested, true
	case IDHave:
		return KindHave, true
	case IDBitfield:
		return KindBitfield, true
	case IDRequest:
		return KindRequest, true
	case IDPiece:
		return KindPiece, true
	case IDCancel:
		return KindCancel, true
	case IDPort:
		return KindPort, true
	default:
		return 0, false
	}
}

// Encode serializes m into its length-prefixed wire form.
func Encode(m Message) []byte {
	switch m.Kind {
	case KindKeepAlive:
		return []byte{0, 0, 0, 0}
	case KindChoke:
		return frame(IDChoke, nil)
	case KindUnchoke:
		return frame(IDUnchoke, nil)
	case KindInterested:
		return frame(IDInterested, nil)
	case KindNotInterested:
		return frame(IDNotInterested, nil)
	case KindHave:
		payload := make([]byte, 4)
		binary.BigEndian.PutUint32(payload, m.Index)
		return frame(IDHave, payload)
	case KindBitfield:
		return frame(IDBitfield, m.Bits)
	case KindRequest:
		return frame(IDRequest, requestPayload(m))
	case KindCancel:
		return frame(IDCancel, requestPayload(m))
	case KindPiece:
		payload := make([]byte, 8+len(m.Block))
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		copy(payload[8:], m.Block)
		return frame(IDPiece, payload)
	case KindPort:
		payload := make([]byte, 2)
		binary.BigEndian.PutUint16(payload, m.Port)
		return frame(IDPort, payload)
	default:
		return nil
	}
}

func requestPayload(m Message) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], m.Index)
	binary.BigEndian.PutUint32(payload[4:8], m.Begin)
	binary.BigEndian.PutUint32(payload[8:12], m.Length)
	return payload
}

func frame(id ID, payload []byte) []byte {
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(payload)))
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// Decode attempts to parse exactly one frame from the front of buf. It
// returns the number of bytes consumed. If buf does not yet hold a
// complete frame, it returns (Message{}, 0, nil) — "incomplete" without
// consuming — so callers can feed it more bytes and retry. A structurally
// invalid frame (unknown id, bad length, cap violation) returns a non-nil
// error and the connection must be dropped.
func Decode(buf []byte, maxNonPieceLength, maxPieceLength uint32) (Message, int, error) {
	if len(buf) < 4 {
		return Message{}, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length == 0 {
		return Message{Kind: KindKeepAlive}, 4, nil
	}

	if len(buf) < 5 {
		// Not enough to know the id yet, but enough to bound-check length
		// against the larger of the two caps so a hostile remote cannot
		// force an unbounded buffer grow while we wait for the id byte.
		if length > maxPieceLength {
			return Message{}, 0, &LengthExceedsCapError{Declared: length, Cap: maxPieceLength}
		}
		return Message{}, 0, nil
	}

	id := ID(buf[4])
	kind, ok := kindFromID(id)
	if !ok {
		return Message{}, 0, &UnknownIDError{ID: id}
	}

	limit := maxNonPieceLength
	if kind == KindPiece {
		limit = maxPieceLength
	}
	if length > limit {
		return Message{}, 0, &LengthExceedsCapError{Declared: length, Cap: limit}
	}

	total := 4 + int(length)
	if len(buf) < total {
		return Message{}, 0, nil
	}
	payload := buf[5:total]

	m, err := decodePayload(kind, payload)
	if err != nil {
		return Message{}, 0, err
	}
	return m, total, nil
}

func decodePayload(kind Kind, payload []byte) (Message, error) {
	switch kind {
	case KindChoke, KindUnchoke, KindInterested, KindNotInterested:
		if len(payload) != 0 {
			return Message{}, &MalformedError{Reason: "expected empty payload"}
		}
		return Message{Kind: kind}, nil
	case KindHave:
		if len(payload) != 4 {
			return Message{}, &MalformedError{Reason: "have payload must be 4 bytes"}
		}
		return Message{Kind: kind, Index: binary.BigEndian.Uint32(payload)}, nil
	case KindBitfield:
		bits := make([]byte, len(payload))
		copy(bits, payload)
		return Message{Kind: kind, Bits: bits}, nil
	case KindRequest, KindCancel:
		if len(payload) != 12 {
			return Message{}, &MalformedError{Reason: "request payload must be 12 bytes"}
		}
		return Message{
			Kind:   kind,
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case KindPiece:
		if len(payload) < 8 {
			return Message{}, &MalformedError{Reason: "piece payload must be at least 8 bytes"}
		}
		block := make([]byte, len(payload)-8)
		copy(block, payload[8:])
		return Message{
			Kind:  kind,
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Block: block,
		}, nil
	case KindPort:
		if len(payload) != 2 {
			return Message{}, &MalformedError{Reason: "port payload must be 2 bytes"}
		}
		return Message{Kind: kind, Port: binary.BigEndian.Uint16(payload)}, nil
	default:
		return Message{}, &MalformedError{Reason: "unreachable message kind"}
	}
}
