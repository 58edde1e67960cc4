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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeString(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("4:spam"))
	require.NoError(err)
	require.Equal(6, n)
	require.Equal(String("spam"), v)
}

func TestDecodeEmptyString(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("0:"))
	require.NoError(err)
	require.Equal(2, n)
	require.Equal(String(""), v)
}

func TestDecodeInt(t *testing.T) {
	tests := []struct {
		desc  string
		input string
		want  Int
	}{
		{"positive", "i3e", 3},
		{"negative", "i-3e", -3},
		{"zero", "i0e", 0},
		{"large", "i9223372036854775807e", 9223372036854775807},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			v, _, err := Decode([]byte(test.input))
			require.NoError(t, err)
			require.Equal(t, test.want, v)
		})
	}
}

func TestDecodeIntErrors(t *testing.T) {
	tests := []struct {
		desc  string
		input string
		kind  ErrorKind
	}{
		{"negative zero", "i-0e", ErrIntNegativeZero},
		{"leading zero", "i03e", ErrIntOverflow},
		{"no digits", "ie", ErrExpectedByte},
		{"unterminated", "i3", ErrEndOfStream},
		{"overflow", "i99999999999999999999e", ErrIntOverflow},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, _, err := Decode([]byte(test.input))
			require.Error(t, err)
			derr, ok := err.(*DecodeError)
			require.True(t, ok)
			require.Equal(t, test.kind, derr.Kind)
		})
	}
}

func TestDecodeList(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("l4:spam4:eggse"))
	require.NoError(err)
	require.Equal(14, n)
	require.Equal(List{String("spam"), String("eggs")}, v)
}

func TestDecodeEmptyList(t *testing.T) {
	require := require.New(t)

	v, _, err := Decode([]byte("le"))
	require.NoError(err)
	require.Equal(List{}, v)
}

func TestDecodeNestedList(t *testing.T) {
	require := require.New(t)

	v, _, err := Decode([]byte("ll4:spamei5ee"))
	require.NoError(err)
	want := List{List{String("spam")}, Int(5)}
	require.True(Equal(want, v))
}

func TestDecodeDict(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("d3:cow3:moo4:spam4:eggse"))
	require.NoError(err)
	require.Equal(24, n)
	d, ok := v.(*Dict)
	require.True(ok)
	require.Equal(2, d.Len())

	cow, ok := d.Get("cow")
	require.True(ok)
	require.Equal(String("moo"), cow)

	spam, ok := d.Get("spam")
	require.True(ok)
	require.Equal(String("eggs"), spam)

	_, ok = d.Get("missing")
	require.False(ok)
}

func TestDecodeDictSpan(t *testing.T) {
	require := require.New(t)

	buf := []byte("d3:cow3:mooe")
	v, n, err := Decode(buf)
	require.NoError(err)
	d := v.(*Dict)
	require.Equal(ByteRange{Start: 0, End: n}, d.Span)
}

func TestDecodeDictOfLists(t *testing.T) {
	require := require.New(t)

	v, _, err := Decode([]byte("d4:spaml1:a1:bee"))
	require.NoError(err)
	d := v.(*Dict)
	spam, ok := d.Get("spam")
	require.True(ok)
	require.True(Equal(List{String("a"), String("b")}, spam))
}

func TestDecodeDictErrors(t *testing.T) {
	tests := []struct {
		desc  string
		input string
		kind  ErrorKind
	}{
		{"duplicate key", "d3:cow3:moo3:cow3:mooe", ErrDuplicateKey},
		{"unsorted keys", "d4:spam3:egg3:cow3:mooe", ErrUnsortedKeys},
		{"unterminated", "d3:cow3:moo", ErrEndOfStream},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, _, err := Decode([]byte(test.input))
			require.Error(t, err)
			derr, ok := err.(*DecodeError)
			require.True(t, ok)
			require.Equal(t, test.kind, derr.Kind)
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	require := require.New(t)

	_, _, err := Decode([]byte("x"))
	require.Error(err)
	derr, ok := err.(*DecodeError)
	require.True(ok)
	require.Equal(ErrUnknownType, derr.Kind)
}

func TestDecodeAllTrailingBytes(t *testing.T) {
	require := require.New(t)

	_, err := DecodeAll([]byte("i3ei4e"))
	require.Error(err)
	derr, ok := err.(*DecodeError)
	require.True(ok)
	require.Equal(ErrTrailingBytes, derr.Kind)
}

func TestEncodeRoundTrip(t *testing.T) {
	tests := []string{
		"4:spam",
		"i3e",
		"i-3e",
		"i0e",
		"le",
		"l4:spam4:eggse",
		"d3:cow3:moo4:spam4:eggse",
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			v, err := DecodeAll([]byte(input))
			require.NoError(t, err)
			require.Equal(t, input, string(Encode(v)))
		})
	}
}

func TestEncodeDictCanonicalOrder(t *testing.T) {
	require := require.New(t)

	d := NewDict()
	d.Set("spam", String("eggs"))
	d.Set("cow", String("moo"))

	require.Equal("d3:cow3:moo4:spam4:eggse", string(Encode(d)))
}
