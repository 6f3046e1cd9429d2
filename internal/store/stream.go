// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StreamID orders stream entries lexicographically by (Ms, Seq).
type StreamID struct {
	Ms  int64
	Seq uint64
}

func (a StreamID) Compare(b StreamID) int {
	switch {
	case a.Ms != b.Ms:
		if a.Ms < b.Ms {
			return -1
		}
		return 1
	case a.Seq != b.Seq:
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (a StreamID) String() string {
	return fmt.Sprintf("%d-%d", a.Ms, a.Seq)
}

var zeroStreamID = StreamID{}
var maxStreamID = StreamID{Ms: math.MaxInt64, Seq: math.MaxUint64}

// ParseStreamID parses a fully explicit "ms-seq" or bare "ms" ID, expanding
// a bare ms to (ms, 0). It does not handle "*", "ms-*", "-", or "+", which
// are resolved by their respective callers.
func ParseStreamID(s string) (StreamID, error) {
	ms, seq, hasSeq := strings.Cut(s, "-")
	msVal, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if !hasSeq {
		return StreamID{Ms: msVal}, nil
	}
	seqVal, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: msVal, Seq: seqVal}, nil
}

// FieldValue is one field=value pair attached to a stream entry.
type FieldValue struct {
	Field string
	Value string
}

// StreamEntry is one appended record.
type StreamEntry struct {
	ID     StreamID
	Fields []FieldValue
}

type streamValue struct {
	entries []StreamEntry
	lastID  StreamID
}

func newStreamValue() *streamValue {
	return &streamValue{}
}

// AddStream appends one entry. idSpec may be "*" (fully auto-generated:
// current wall-clock ms, seq 0 or previous_seq+1 if the same ms), "ms-*"
// (explicit ms, auto seq), or an explicit "ms-seq". The resulting ID must be
// strictly greater than the stream's last ID; the literal "0-0" is always
// rejected regardless of ordering, since the minimum valid insertion is
// (0,1).
func (s *Store) AddStream(key string, idSpec string, fields []FieldValue) (StreamID, error) {
	e, err := s.getOrCreate(key, KindStream, func() *entry {
		return &entry{strm: newStreamValue()}
	})
	if err != nil {
		return StreamID{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := resolveStreamID(idSpec, e.strm.lastID, s.nowMs())
	if err != nil {
		return StreamID{}, err
	}
	if id == zeroStreamID {
		return StreamID{}, ErrStreamIDZero
	}
	if len(e.strm.entries) > 0 && id.Compare(e.strm.lastID) <= 0 {
		return StreamID{}, ErrStreamIDTooSmall
	}

	e.strm.entries = append(e.strm.entries, StreamEntry{ID: id, Fields: fields})
	e.strm.lastID = id

	if s.hooks.OnStreamAppend != nil {
		s.hooks.OnStreamAppend(key)
	}
	return id, nil
}

func resolveStreamID(spec string, lastID StreamID, nowMs int64) (StreamID, error) {
	if spec == "*" {
		if lastID.Ms == nowMs {
			return StreamID{Ms: nowMs, Seq: lastID.Seq + 1}, nil
		}
		return StreamID{Ms: nowMs, Seq: 0}, nil
	}

	msPart, seqPart, hasSeq := strings.Cut(spec, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if hasSeq && seqPart == "*" {
		if lastID.Ms == ms {
			return StreamID{Ms: ms, Seq: lastID.Seq + 1}, nil
		}
		return StreamID{Ms: ms, Seq: 0}, nil
	}
	if !hasSeq {
		return StreamID{}, ErrInvalidStreamID
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// XRange returns entries with IDs inclusive of both bounds. "-"/"+" denote
// the minimum/maximum possible ID; a bare "ms" expands to (ms,0) for start
// and (ms, max-uint64) for end.
func (s *Store) XRange(key, startSpec, endSpec string) ([]StreamEntry, error) {
	start, err := parseRangeBound(startSpec, zeroStreamID)
	if err != nil {
		return nil, err
	}
	end, err := parseRangeBound(endSpec, maxStreamID)
	if err != nil {
		return nil, err
	}

	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindStream {
		return nil, ErrWrongType
	}

	out := make([]StreamEntry, 0)
	for _, entry := range e.strm.entries {
		if entry.ID.Compare(start) >= 0 && entry.ID.Compare(end) <= 0 {
			out = append(out, entry)
		}
	}
	return out, nil
}

func parseRangeBound(spec string, seqDefault StreamID) (StreamID, error) {
	switch spec {
	case "-":
		return zeroStreamID, nil
	case "+":
		return maxStreamID, nil
	}
	if !strings.Contains(spec, "-") {
		ms, err := strconv.ParseInt(spec, 10, 64)
		if err != nil {
			return StreamID{}, ErrInvalidStreamID
		}
		if seqDefault == maxStreamID {
			return StreamID{Ms: ms, Seq: math.MaxUint64}, nil
		}
		return StreamID{Ms: ms, Seq: 0}, nil
	}
	return ParseStreamID(spec)
}

// LastStreamID returns the stream's current last ID, used to resolve "$" at
// the moment an XREAD BLOCK call begins.
func (s *Store) LastStreamID(key string) StreamID {
	e := s.lookup(key)
	if e == nil {
		return zeroStreamID
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindStream {
		return zeroStreamID
	}
	return e.strm.lastID
}

// ReadStreamAfter returns all entries in key strictly greater than afterID.
func (s *Store) ReadStreamAfter(key string, afterID StreamID) ([]StreamEntry, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindStream {
		return nil, ErrWrongType
	}

	out := make([]StreamEntry, 0)
	for _, entry := range e.strm.entries {
		if entry.ID.Compare(afterID) > 0 {
			out = append(out, entry)
		}
	}
	return out, nil
}
