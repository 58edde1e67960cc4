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
package bencode

import (
	"bytes"
	"strconv"
)

// Encode returns the canonical bencode representation of v. Dict entries are
// already held in sorted order by construction, so encoding a Dict always
// produces sorted-key output regardless of how it was built.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch t := v.(type) {
	case String:
		buf.WriteString(strconv.Itoa(len(t)))
		buf.WriteByte(':')
		buf.Write(t)
	case Int:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		buf.WriteByte('e')
	case List:
		buf.WriteByte('l')
		for _, e := range t {
			encodeValue(buf, e)
		}
		buf.WriteByte('e')
	case *Dict:
		buf.WriteByte('d')
		for _, e := range t.entries {
			encodeValue(buf, String(e.Key))
			encodeValue(buf, e.Value)
		}
		buf.WriteByte('e')
	}
}
