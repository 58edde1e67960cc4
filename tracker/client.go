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

import "context"

// Fetcher performs the actual tracker HTTP round trip. The event loop
// supplies an implementation backed by net/http; tests supply a fake. This
// keeps the HTTP client itself an external collaborator per the core's
// scope, while the request/response shapes stay inside this package.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Client builds announce queries and parses tracker responses against a
// single announce URL.
type Client struct {
	announceURL string
	fetcher     Fetcher
}

// NewClient returns a Client that announces to announceURL using fetcher
// for the HTTP round trip.
func NewClient(announceURL string, fetcher Fetcher) *Client {
	return &Client{announceURL: announceURL, fetcher: fetcher}
}

// Announce sends req to the tracker and returns its parsed response.
func (c *Client) Announce(ctx context.Context, req Request) (*Response, error) {
	url := BuildURL(c.announceURL, req)
	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &HTTPError{Inner: err}
	}
	return Parse(body)
}
