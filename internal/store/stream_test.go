// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"testing"
	"time"
)

func TestAddStreamAutoIDsAreStrictlyIncreasing(t *testing.T) {
	s := newTestStore()
	fake := time.UnixMilli(1000)
	s.now = func() time.Time { return fake }

	id1, err := s.AddStream("k", "*", []FieldValue{{Field: "f", Value: "1"}})
	if err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	id2, err := s.AddStream("k", "*", []FieldValue{{Field: "f", Value: "2"}})
	if err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if id2.Compare(id1) <= 0 {
		t.Fatalf("expected id2 > id1, got %s, %s", id1, id2)
	}
}

func TestAddStreamRejectsNonIncreasingID(t *testing.T) {
	s := newTestStore()
	if _, err := s.AddStream("k", "5-5", nil); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if _, err := s.AddStream("k", "5-5", nil); err != ErrStreamIDTooSmall {
		t.Fatalf("got %v", err)
	}
	if _, err := s.AddStream("k", "5-4", nil); err != ErrStreamIDTooSmall {
		t.Fatalf("got %v", err)
	}
}

func TestAddStreamRejectsLiteralZero(t *testing.T) {
	s := newTestStore()
	if _, err := s.AddStream("k", "0-0", nil); err != ErrStreamIDZero {
		t.Fatalf("got %v", err)
	}
}

func TestXRangeInclusiveBounds(t *testing.T) {
	s := newTestStore()
	for _, id := range []string{"1-1", "2-1", "3-1"} {
		if _, err := s.AddStream("k", id, nil); err != nil {
			t.Fatalf("AddStream: %v", err)
		}
	}

	entries, err := s.XRange("k", "2-1", "3-1")
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 2 || entries[0].ID.String() != "2-1" || entries[1].ID.String() != "3-1" {
		t.Fatalf("got %+v", entries)
	}
}

func TestXRangeFullSpan(t *testing.T) {
	s := newTestStore()
	if _, err := s.AddStream("k", "1-1", nil); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	entries, err := s.XRange("k", "-", "+")
	if err != nil || len(entries) != 1 {
		t.Fatalf("got (%v, %v)", entries, err)
	}
}

func TestReadStreamAfterReturnsOnlyNewer(t *testing.T) {
	s := newTestStore()
	id1, err := s.AddStream("k", "1-1", nil)
	if err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if _, err := s.AddStream("k", "2-1", nil); err != nil {
		t.Fatalf("AddStream: %v", err)
	}

	entries, err := s.ReadStreamAfter("k", id1)
	if err != nil || len(entries) != 1 || entries[0].ID.String() != "2-1" {
		t.Fatalf("got (%+v, %v)", entries, err)
	}
}
