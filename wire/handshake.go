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
package wire

import (
	"github.com/nprezin/peerwire/core"
)

const protocolID = "BitTorrent protocol"

// HandshakeLength is the fixed size of a handshake frame: it is never
// length-prefixed like the messages that follow it.
const HandshakeLength = 1 + len(protocolID) + 8 + 20 + 20

// Handshake is the 68-byte identity exchange that opens every peer
// connection.
type Handshake struct {
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

// EncodeHandshake serializes h. Reserved bytes are always sent as zero.
func EncodeHandshake(h Handshake) []byte {
	buf := make([]byte, HandshakeLength)
	buf[0] = byte(len(protocolID))
	cursor := 1
	cursor += copy(buf[cursor:], protocolID)
	cursor += 8 // reserved, left zero
	cursor += copy(buf[cursor:], h.InfoHash.Bytes())
	copy(buf[cursor:], h.PeerID.Bytes())
	return buf
}

// DecodeHandshake attempts to parse a handshake from the front of buf. As
// with Decode, an incomplete prefix returns (Handshake{}, 0, nil) rather
// than an error; any 68-byte prefix whose first 20 bytes are
// <19>"BitTorrent protocol" is accepted regardless of the reserved bytes,
// which are ignored on receive.
func DecodeHandshake(buf []byte) (Handshake, int, error) {
	if len(buf) < 1 {
		return Handshake{}, 0, nil
	}
	pstrlen := int(buf[0])
	total := 1 + pstrlen + 8 + 20 + 20
	if len(buf) < total {
		return Handshake{}, 0, nil
	}
	if pstrlen != len(protocolID) || string(buf[1:1+pstrlen]) != protocolID {
		return Handshake{}, 0, &HandshakeMismatchError{}
	}

	cursor := 1 + pstrlen + 8
	infoHash, err := core.NewInfoHashFromRaw(buf[cursor : cursor+20])
	if err != nil {
		return Handshake{}, 0, &HandshakeMismatchError{}
	}
	cursor += 20
	peerID, err := core.NewPeerIDFromBytes(buf[cursor : cursor+20])
	if err != nil {
		return Handshake{}, 0, &HandshakeMismatchError{}
	}

	return Handshake{InfoHash: infoHash, PeerID: peerID}, total, nil
}
