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

// Package metainfo projects a decoded bencode root dictionary onto the
// torrent file schema: announce URL, announce-list tiers, piece hashes,
// and file layout.
package metainfo

import (
	"github.com/nprezin/peerwire/bencode"
	"github.com/nprezin/peerwire/core"
)

// File is a single entry of a multi-file torrent's layout.
type File struct {
	Path   []string
	Length int64
}

// Info is the projected "info" dictionary: piece layout and file contents.
type Info struct {
	PieceLength int64
	Pieces      []core.PieceHash
	Name        string

	// Single-file form. Length is non-zero (or Files is non-empty; never
	// both) iff this torrent describes a single file.
	Length int64
	MD5Sum string

	// Multi-file form.
	Files []File
}

// TotalLength returns the sum of all file lengths described by info,
// whether single-file or multi-file.
func (info *Info) TotalLength() int64 {
	if len(info.Files) == 0 {
		return info.Length
	}
	var total int64
	for _, f := range info.Files {
		total += f.Length
	}
	return total
}

// Metainfo is the typed view over a decoded torrent file.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string
	CreatedBy    string
	CreationDate int64
	Comment      string
	Info         Info
	InfoHash     core.InfoHash
}

// Deserialize decodes a raw torrent file and projects it onto Metainfo.
func Deserialize(raw []byte) (*Metainfo, error) {
	v, err := bencode.DecodeAll(raw)
	if err != nil {
		return nil, &ParseError{Inner: err}
	}
	root, ok := v.(*bencode.Dict)
	if !ok {
		return nil, &FieldWrongTypeError{Name: "<root>"}
	}
	return fromDict(root, raw)
}

func fromDict(root *bencode.Dict, raw []byte) (*Metainfo, error) {
	announce, err := getString(root, "announce")
	if err != nil {
		return nil, err
	}

	infoVal, ok := root.Get("info")
	if !ok {
		return nil, &MissingFieldError{Name: "info"}
	}
	infoDict, ok := infoVal.(*bencode.Dict)
	if !ok {
		return nil, &FieldWrongTypeError{Name: "info"}
	}

	info, err := infoFromDict(infoDict)
	if err != nil {
		return nil, err
	}

	m := &Metainfo{
		Announce: announce,
		Info:     *info,
	}

	if v, ok := root.Get("announce-list"); ok {
		tiers, err := announceListFrom(v)
		if err != nil {
			return nil, err
		}
		m.AnnounceList = tiers
	}
	if v, ok := root.Get("created by"); ok {
		if s, ok := v.(bencode.String); ok {
			m.CreatedBy = string(s)
		}
	}
	if v, ok := root.Get("comment"); ok {
		if s, ok := v.(bencode.String); ok {
			m.Comment = string(s)
		}
	}
	if v, ok := root.Get("creation date"); ok {
		if n, ok := v.(bencode.Int); ok {
			m.CreationDate = int64(n)
		}
	}

	// The info-hash must be SHA-1 of the exact bytes the info dict occupied
	// in the original buffer, not a re-encoding: a non-canonical source
	// torrent would otherwise hash to a different value than the tracker
	// and every other client computed.
	span := infoDict.Span
	if span.End <= span.Start || span.End > len(raw) {
		return nil, &InvalidDataError{Field: "info"}
	}
	m.InfoHash = core.NewInfoHashFromBytes(raw[span.Start:span.End])

	if m.Info.TotalLength() <= 0 {
		return nil, &InvalidDataError{Field: "info"}
	}
	tail := m.Info.TotalLength() - int64(len(m.Info.Pieces)-1)*m.Info.PieceLength
	if tail <= 0 || tail > m.Info.PieceLength {
		return nil, &InvalidDataError{Field: "pieces"}
	}

	return m, nil
}

func infoFromDict(d *bencode.Dict) (*Info, error) {
	pieceLength, err := getInt(d, "piece length")
	if err != nil {
		return nil, err
	}
	if pieceLength <= 0 {
		return nil, &InvalidDataError{Field: "piece length"}
	}

	piecesVal, ok := d.Get("pieces")
	if !ok {
		return nil, &MissingFieldError{Name: "pieces"}
	}
	piecesStr, ok := piecesVal.(bencode.String)
	if !ok {
		return nil, &FieldWrongTypeError{Name: "pieces"}
	}
	if len(piecesStr)%20 != 0 {
		return nil, &InvalidDataError{Field: "pieces"}
	}
	pieces := make([]core.PieceHash, len(piecesStr)/20)
	for i := range pieces {
		h, err := core.NewPieceHash(piecesStr[i*20 : i*20+20])
		if err != nil {
			return nil, &InvalidDataError{Field: "pieces"}
		}
		pieces[i] = h
	}
	if len(pieces) == 0 {
		return nil, &InvalidDataError{Field: "pieces"}
	}

	name, err := getString(d, "name")
	if err != nil {
		return nil, err
	}

	info := &Info{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Name:        name,
	}

	_, hasLength := d.Get("length")
	_, hasFiles := d.Get("files")
	switch {
	case hasLength && hasFiles:
		return nil, &InvalidDataError{Field: "length/files"}
	case hasLength:
		length, err := getInt(d, "length")
		if err != nil {
			return nil, err
		}
		info.Length = length
		if v, ok := d.Get("md5sum"); ok {
			if s, ok := v.(bencode.String); ok {
				info.MD5Sum = string(s)
			}
		}
	case hasFiles:
		filesVal, _ := d.Get("files")
		filesList, ok := filesVal.(bencode.List)
		if !ok {
			return nil, &FieldWrongTypeError{Name: "files"}
		}
		for _, fv := range filesList {
			fd, ok := fv.(*bencode.Dict)
			if !ok {
				return nil, &FieldWrongTypeError{Name: "files[]"}
			}
			length, err := getInt(fd, "length")
			if err != nil {
				return nil, err
			}
			pathVal, ok := fd.Get("path")
			if !ok {
				return nil, &MissingFieldError{Name: "path"}
			}
			pathList, ok := pathVal.(bencode.List)
			if !ok {
				return nil, &FieldWrongTypeError{Name: "path"}
			}
			path := make([]string, len(pathList))
			for i, pv := range pathList {
				ps, ok := pv.(bencode.String)
				if !ok {
					return nil, &FieldWrongTypeError{Name: "path[]"}
				}
				path[i] = string(ps)
			}
			info.Files = append(info.Files, File{Path: path, Length: length})
		}
	default:
		return nil, &MissingFieldError{Name: "length"}
	}

	return info, nil
}

func announceListFrom(v bencode.Value) ([][]string, error) {
	outer, ok := v.(bencode.List)
	if !ok {
		return nil, &FieldWrongTypeError{Name: "announce-list"}
	}
	tiers := make([][]string, 0, len(outer))
	for _, tv := range outer {
		inner, ok := tv.(bencode.List)
		if !ok {
			return nil, &FieldWrongTypeError{Name: "announce-list[]"}
		}
		tier := make([]string, 0, len(inner))
		for _, uv := range inner {
			us, ok := uv.(bencode.String)
			if !ok {
				return nil, &FieldWrongTypeError{Name: "announce-list[][]"}
			}
			tier = append(tier, string(us))
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func getString(d *bencode.Dict, key string) (string, error) {
	v, ok := d.Get(key)
	if !ok {
		return "", &MissingFieldError{Name: key}
	}
	s, ok := v.(bencode.String)
	if !ok {
		return "", &FieldWrongTypeError{Name: key}
	}
	return string(s), nil
}

func getInt(d *bencode.Dict, key string) (int64, error) {
	v, ok := d.Get(key)
	if !ok {
		return 0, &MissingFieldError{Name: key}
	}
	n, ok := v.(bencode.Int)
	if !ok {
		return 0, &FieldWrongTypeError{Name: key}
	}
	return int64(n), nil
}

