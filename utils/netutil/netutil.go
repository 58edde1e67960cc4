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

// Package netutil holds small address-parsing helpers shared by the
// tracker client and the dial/accept paths.
package netutil

import (
	"fmt"
	"strings"
)

// SplitHostPort splits addr into host and port. Unlike net.SplitHostPort,
// a bare host with no colon at all is valid and returns an empty port,
// since not every caller requires one.
func SplitHostPort(addr string) (host, port string, err error) {
	parts := strings.Split(addr, ":")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("%s is not a valid address", addr)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%s is not a valid address", addr)
	}
}
