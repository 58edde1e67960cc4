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
package metainfo

import "fmt"

// MissingFieldError indicates a required field was absent from the root
// or info dictionary.
type MissingFieldError struct {
	Name string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("metainfo: missing field %q", e.Name)
}

// FieldWrongTypeError indicates a field was present but not the bencode
// type the schema requires.
type FieldWrongTypeError struct {
	Name string
}

func (e *FieldWrongTypeError) Error() string {
	return fmt.Sprintf("metainfo: field %q has the wrong type", e.Name)
}

// InvalidDataError indicates a field had the right bencode type but its
// value violates a metainfo-level constraint (e.g. pieces length not a
// multiple of 20, or declared lengths that don't add up).
type InvalidDataError struct {
	Field string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("metainfo: invalid data for field %q", e.Field)
}

// ParseError wraps a bencode decode failure encountered while parsing the
// root torrent-file dictionary.
type ParseError struct {
	Inner error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("metainfo: parse error: %s", e.Inner)
}

func (e *ParseError) Unwrap() error {
	return e.Inner
}
