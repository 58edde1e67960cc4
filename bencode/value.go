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

// Package bencode implements the bencode value model and its codec: a
// tagged variant of byte-string, integer, list and dictionary, plus a
// decoder/encoder pair that round-trips canonical bencode exactly.
package bencode

import "bytes"

// Value is a decoded bencode value. It is a closed tagged union with four
// arms: String, Int, List and *Dict. Type-switch on the concrete type to
// inspect a Value.
type Value interface {
	bencodeValue()
}

// String is a bencoded byte-string. It is not required to be valid UTF-8.
type String []byte

func (String) bencodeValue() {}

// Int is a bencoded signed 64-bit integer.
type Int int64

func (Int) bencodeValue() {}

// List is an ordered sequence of bencode values.
type List []Value

func (List) bencodeValue() {}

// DictEntry is a single key/value pair within a Dict, in the order the
// dictionary requires: byte-lexicographic ascending by Key.
type DictEntry struct {
	Key   string
	Value Value
}

// Dict is a bencoded dictionary. Entries are always held in strictly
// ascending byte-lexicographic key order, so any Dict built or decoded by
// this package encodes canonically.
//
// Span holds the raw byte range [Start, End) of the dictionary as it
// appeared in the original input, when Dict was produced by Decode. It is
// zero-valued for dictionaries built programmatically via NewDict. Span
// exists so that callers needing info_hash = SHA-1(original info-dict
// bytes) can recover those exact bytes without re-encoding, since
// re-encoding a non-canonical input would not reproduce it byte-for-byte.
type Dict struct {
	entries []DictEntry
	Span    ByteRange
}

// ByteRange is a half-open [Start, End) byte offset range into the buffer a
// value was decoded from.
type ByteRange struct {
	Start int
	End   int
}

// NewDict returns an empty Dict ready for programmatic construction.
func NewDict() *Dict {
	return &Dict{}
}

func (*Dict) bencodeValue() {}

// Len returns the number of entries in d.
func (d *Dict) Len() int {
	return len(d.entries)
}

// Entries returns d's entries in sorted key order. The returned slice must
// not be mutated.
func (d *Dict) Entries() []DictEntry {
	return d.entries
}

// Get returns the value associated with key, if present.
func (d *Dict) Get(key string) (Value, bool) {
	i := d.search(key)
	if i < len(d.entries) && d.entries[i].Key == key {
		return d.entries[i].Value, true
	}
	return nil, false
}

// Set inserts or replaces the value for key, maintaining sorted order.
func (d *Dict) Set(key string, v Value) {
	i := d.search(key)
	if i < len(d.entries) && d.entries[i].Key == key {
		d.entries[i].Value = v
		return
	}
	d.entries = append(d.entries, DictEntry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = DictEntry{Key: key, Value: v}
}

// search returns the index of the first entry whose key is >= key.
func (d *Dict) search(key string) int {
	lo, hi := 0, len(d.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if d.entries[mid].Key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Equal reports whether v and o are the same bencode value.
func Equal(v, o Value) bool {
	switch a := v.(type) {
	case String:
		b, ok := o.(String)
		return ok && bytes.Equal(a, b)
	case Int:
		b, ok := o.(Int)
		return ok && a == b
	case List:
		b, ok := o.(List)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !Equal(a[i], b[i]) {
				return false
			}
		}
		return true
	case *Dict:
		b, ok := o.(*Dict)
		if !ok || a.Len() != b.Len() {
			return false
		}
		for i, e := range a.entries {
			if e.Key != b.entries[i].Key || !Equal(e.Value, b.entries[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
