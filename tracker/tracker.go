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

// Package tracker builds the tracker HTTP query from current client state
// and parses the bencoded peer-list response. The actual HTTP round trip is
// an external collaborator: callers supply a Fetcher that turns a URL into
// raw response bytes.
package tracker

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nprezin/peerwire/bencode"
	"github.com/nprezin/peerwire/core"
)

// Event is the tracker announce event.
type Event int

// Announce events.
const (
	None Event = iota
	Started
	Stopped
	Completed
)

func (e Event) String() string {
	switch e {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	default:
		return ""
	}
}

// Request is the set of fields sent to a tracker on every announce.
type Request struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
	Event      Event

	NumWant    int
	Key        string
	IP         string
	TrackerID  string
}

// BuildURL returns the full announce URL for req against the tracker base
// announceURL, percent-encoding every field per RFC 3986 unreserved rules.
func BuildURL(announceURL string, req Request) string {
	var q strings.Builder
	q.WriteString(announceURL)
	if strings.Contains(announceURL, "?") {
		q.WriteByte('&')
	} else {
		q.WriteByte('?')
	}

	pairs := []struct{ key, val string }{
		{"info_hash", string(req.InfoHash.Bytes())},
		{"peer_id", string(req.PeerID.Bytes())},
		{"port", strconv.Itoa(req.Port)},
		{"uploaded", strconv.FormatInt(req.Uploaded, 10)},
		{"downloaded", strconv.FormatInt(req.Downloaded, 10)},
		{"left", strconv.FormatInt(req.Left, 10)},
		{"compact", compactFlag(req.Compact)},
	}
	if req.Event != None {
		pairs = append(pairs, struct{ key, val string }{"event", req.Event.String()})
	}
	if req.NumWant > 0 {
		pairs = append(pairs, struct{ key, val string }{"numwant", strconv.Itoa(req.NumWant)})
	}
	if req.Key != "" {
		pairs = append(pairs, struct{ key, val string }{"key", req.Key})
	}
	if req.IP != "" {
		pairs = append(pairs, struct{ key, val string }{"ip", req.IP})
	}
	if req.TrackerID != "" {
		pairs = append(pairs, struct{ key, val string }{"trackerid", req.TrackerID})
	}

	for i, p := range pairs {
		if i > 0 {
			q.WriteByte('&')
		}
		q.WriteString(p.key)
		q.WriteByte('=')
		q.WriteString(percentEncode(p.val))
	}
	return q.String()
}

func compactFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '-' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// percentEncode encodes s per RFC 3986 unreserved rules: letters, digits,
// and ".-_~" pass through; everything else becomes "%HH" with uppercase
// hex, which is what info_hash and peer_id (raw 20-byte binary) require.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Peer is one entry of a tracker's peer list.
type Peer struct {
	ID   *core.PeerID
	IP   net.IP
	Port int
}

// Response is the typed projection of a tracker's bencoded announce reply.
type Response struct {
	Interval      int64
	MinInterval   int64
	Complete      int64
	Incomplete    int64
	TrackerID     string
	WarningMessage string
	Peers         []Peer
}

// Parse decodes a raw tracker response body. A "failure reason" field
// surfaces as RefusedError; any other structural problem surfaces as
// ParseError wrapping the underlying bencode or shape error.
func Parse(body []byte) (*Response, error) {
	v, err := bencode.DecodeAll(body)
	if err != nil {
		return nil, &ParseError{Inner: err}
	}
	d, ok := v.(*bencode.Dict)
	if !ok {
		return nil, &ParseError{Inner: fmt.Errorf("tracker response is not a dictionary")}
	}

	if fr, ok := d.Get("failure reason"); ok {
		s, ok := fr.(bencode.String)
		if !ok {
			return nil, &ParseError{Inner: fmt.Errorf("failure reason is not a string")}
		}
		return nil, &RefusedError{Reason: string(s)}
	}

	resp := &Response{}

	if v, ok := d.Get("interval"); ok {
		n, ok := v.(bencode.Int)
		if !ok {
			return nil, &ParseError{Inner: fmt.Errorf("interval is not an integer")}
		}
		resp.Interval = int64(n)
	}
	if v, ok := d.Get("min interval"); ok {
		if n, ok := v.(bencode.Int); ok {
			resp.MinInterval = int64(n)
		}
	}
	if v, ok := d.Get("complete"); ok {
		if n, ok := v.(bencode.Int); ok {
			resp.Complete = int64(n)
		}
	}
	if v, ok := d.Get("incomplete"); ok {
		if n, ok := v.(bencode.Int); ok {
			resp.Incomplete = int64(n)
		}
	}
	if v, ok := d.Get("tracker id"); ok {
		if s, ok := v.(bencode.String); ok {
			resp.TrackerID = string(s)
		}
	}
	if v, ok := d.Get("warning message"); ok {
		if s, ok := v.(bencode.String); ok {
			resp.WarningMessage = string(s)
		}
	}

	peersVal, ok := d.Get("peers")
	if !ok {
		return nil, &ParseError{Inner: fmt.Errorf("missing peers field")}
	}
	peers, err := parsePeers(peersVal)
	if err != nil {
		return nil, &ParseError{Inner: err}
	}
	resp.Peers = peers

	return resp, nil
}

// parsePeers accepts both the list-of-dicts form and the compact
// 6-bytes-per-peer byte-string form (SPEC_FULL.md resolves the source's
// open question by requiring both be accepted).
func parsePeers(v bencode.Value) ([]Peer, error) {
	switch t := v.(type) {
	case bencode.String:
		return parseCompactPeers([]byte(t))
	case bencode.List:
		peers := make([]Peer, 0, len(t))
		for _, pv := range t {
			pd, ok := pv.(*bencode.Dict)
			if !ok {
				return nil, fmt.Errorf("peer entry is not a dictionary")
			}
			p, err := peerFromDict(pd)
			if err != nil {
				return nil, err
			}
			peers = append(peers, p)
		}
		return peers, nil
	default:
		return nil, fmt.Errorf("peers field has unexpected type")
	}
}

func peerFromDict(d *bencode.Dict) (Peer, error) {
	var p Peer
	if v, ok := d.Get("peer id"); ok {
		s, ok := v.(bencode.String)
		if !ok {
			return p, fmt.Errorf("peer id is not a string")
		}
		id, err := core.NewPeerIDFromBytes([]byte(s))
		if err == nil {
			p.ID = &id
		}
	}
	ipVal, ok := d.Get("ip")
	if !ok {
		return p, fmt.Errorf("peer entry missing ip")
	}
	ipStr, ok := ipVal.(bencode.String)
	if !ok {
		return p, fmt.Errorf("ip is not a string")
	}
	ip := net.ParseIP(string(ipStr))
	if ip == nil {
		// Hostnames are occasionally seen in the wild; resolve them here. A
		// host that does not resolve is an error that fails the whole
		// response.
		resolved, err := net.ResolveIPAddr("ip", string(ipStr))
		if err != nil {
			return p, fmt.Errorf("invalid peer ip %q", ipStr)
		}
		ip = resolved.IP
	}
	p.IP = ip

	portVal, ok := d.Get("port")
	if !ok {
		return p, fmt.Errorf("peer entry missing port")
	}
	port, ok := portVal.(bencode.Int)
	if !ok {
		return p, fmt.Errorf("port is not an integer")
	}
	p.Port = int(port)
	return p, nil
}

func parseCompactPeers(data []byte) ([]Peer, error) {
	const entrySize = 6
	if len(data)%entrySize != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of %d", len(data), entrySize)
	}
	peers := make([]Peer, 0, len(data)/entrySize)
	for i := 0; i < len(data); i += entrySize {
		ip := net.IPv4(data[i], data[i+1], data[i+2], data[i+3])
		port := int(data[i+4])<<8 | int(data[i+5])
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}
