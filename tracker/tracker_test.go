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
package tracker

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nprezin/peerwire/core"
)

func TestBuildURLPercentEncodesBinaryFields(t *testing.T) {
	require := require.New(t)

	ih, err := core.NewInfoHashFromHex("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.NoError(err)
	pid, err := core.NewPeerID("4142434445464748494a4b4c4d4e4f5051525354")
	require.NoError(err)

	req := Request{
		InfoHash: ih,
		PeerID:   pid,
		Port:     6881,
		Left:     100,
		Compact:  true,
		Event:    Started,
	}
	full := BuildURL("http://tracker.test/announce", req)

	parsed, err := url.Parse(full)
	require.NoError(err)
	q := parsed.Query()
	require.Equal("6881", q.Get("port"))
	require.Equal("100", q.Get("left"))
	require.Equal("1", q.Get("compact"))
	require.Equal("started", q.Get("event"))
	require.Equal(string(ih.Bytes()), q.Get("info_hash"))
	require.Equal(string(pid.Bytes()), q.Get("peer_id"))
}

func TestPercentEncodeUnreservedPassthrough(t *testing.T) {
	require := require.New(t)
	require.Equal("abcXYZ019.-_~", percentEncode("abcXYZ019.-_~"))
	require.Equal("%00%FF", percentEncode("\x00\xff"))
}

func TestParseDictFormPeers(t *testing.T) {
	require := require.New(t)

	body := []byte("d8:completei1e10:incompletei2e8:intervali1800e5:peersld2:ip9:127.0.0.17:peer id20:AAAAAAAAAAAAAAAAAAAA4:porti6881eeee")
	resp, err := Parse(body)
	require.NoError(err)
	require.Equal(int64(1800), resp.Interval)
	require.Len(resp.Peers, 1)
	require.Equal("127.0.0.1", resp.Peers[0].IP.String())
	require.Equal(6881, resp.Peers[0].Port)
}

func TestParseCompactFormPeers(t *testing.T) {
	require := require.New(t)

	compact := []byte{127, 0, 0, 1, 0x1a, 0xe1}
	var buf bytes.Buffer
	buf.WriteString("d8:intervali1800e5:peers6:")
	buf.Write(compact)
	buf.WriteString("e")

	resp, err := Parse(buf.Bytes())
	require.NoError(err)
	require.Len(resp.Peers, 1)
	require.Equal("127.0.0.1", resp.Peers[0].IP.String())
	require.Equal(6881, resp.Peers[0].Port)
}

func TestParseFailureReason(t *testing.T) {
	require := require.New(t)

	body := []byte("d14:failure reason17:torrent not founde")
	_, err := Parse(body)
	require.Error(err)
	var refused *RefusedError
	require.True(errors.As(err, &refused))
	require.Equal("torrent not found", refused.Reason)
}

type fakeFetcher struct {
	body []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.body, f.err
}

func TestClientAnnounceHTTPError(t *testing.T) {
	require := require.New(t)

	c := NewClient("http://tracker.test/announce", &fakeFetcher{err: errors.New("connection refused")})
	_, err := c.Announce(context.Background(), Request{})
	require.Error(err)
	var httpErr *HTTPError
	require.True(errors.As(err, &httpErr))
}

func TestClientAnnounceSuccess(t *testing.T) {
	require := require.New(t)

	compact := []byte{10, 0, 0, 1, 0x1a, 0xe1}
	var buf bytes.Buffer
	buf.WriteString("d8:intervali900e5:peers6:")
	buf.Write(compact)
	buf.WriteString("e")

	c := NewClient("http://tracker.test/announce", &fakeFetcher{body: buf.Bytes()})
	resp, err := c.Announce(context.Background(), Request{})
	require.NoError(err)
	require.Equal(int64(900), resp.Interval)
	require.Len(resp.Peers, 1)
}
