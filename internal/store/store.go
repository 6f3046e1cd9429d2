// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the shared, concurrent, in-memory key-value
// engine: a top-level key map plus the per-kind algorithms (string, list,
// stream, sorted set, geo) layered on top of it.
//
// Concurrency follows the same double-checked-locking discipline the
// teacher's metric tree uses for lazily creating nodes: the top-level map is
// guarded by a RWMutex taken only for structural edits (key creation,
// deletion, kind changes), while each entry carries its own mutex so
// concurrent operations on different keys never contend on the map lock.
package store

import (
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Kind tags which value variant a key currently holds. A key holds exactly
// one kind for its lifetime unless deleted and reinserted as a different
// kind.
type Kind int

const (
	KindNone Kind = iota
	KindString
	KindList
	KindStream
	KindZSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindStream:
		return "stream"
	case KindZSet:
		return "zset"
	default:
		return "none"
	}
}

// entry is a single stored record: a value of exactly one kind plus an
// optional expiry. Its own mutex lets concurrent operations on other keys
// proceed without waiting on the store's top-level lock.
type entry struct {
	mu        sync.RWMutex
	kind      Kind
	expiresAt int64 // unix ms; 0 means no expiry

	str  []byte
	list *listValue
	strm *streamValue
	zset *zsetValue
}

func (e *entry) expired(nowMs int64) bool {
	return e.expiresAt != 0 && nowMs >= e.expiresAt
}

// Hooks lets collaborators outside the store (the blocking coordinator)
// observe mutations without the store importing them directly, avoiding a
// cyclic dependency between store and blocking.
type Hooks struct {
	// OnListPush fires after every ListPush that adds at least one element,
	// whether or not the list was empty before.
	OnListPush func(key string)
	// OnStreamAppend fires after every successful XADD.
	OnStreamAppend func(key string)
}

// Store is the shared key-value engine. All exported methods are safe for
// concurrent use by many connections.
type Store struct {
	mu    sync.RWMutex
	data  map[string]*entry
	hooks Hooks

	now func() time.Time // overridable for tests
}

func New(hooks Hooks) *Store {
	return &Store{
		data:  make(map[string]*entry),
		hooks: hooks,
		now:   time.Now,
	}
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// lookup returns the entry for key if present and not expired. A lazily
// expired key is deleted from the map before lookup returns nil.
func (s *Store) lookup(key string) *entry {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.RLock()
	expired := e.expired(s.nowMs())
	e.mu.RUnlock()
	if expired {
		s.Delete(key)
		return nil
	}
	return e
}

// getOrCreate returns the entry for key, creating it with the given kind if
// absent. If the key exists with a different kind, it returns ErrWrongType.
// Uses the same RLock-then-Lock-then-recheck pattern as the teacher's
// findLevelOrCreate, so the common case (key already exists) never takes
// the exclusive top-level lock.
func (s *Store) getOrCreate(key string, kind Kind, newValue func() *entry) (*entry, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if ok {
		e.mu.RLock()
		expired := e.expired(s.nowMs())
		actualKind := e.kind
		e.mu.RUnlock()
		if expired {
			s.Delete(key)
		} else if actualKind != kind {
			return nil, ErrWrongType
		} else {
			return e, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok {
		e.mu.RLock()
		expired := e.expired(s.nowMs())
		actualKind := e.kind
		e.mu.RUnlock()
		if !expired {
			if actualKind != kind {
				return nil, ErrWrongType
			}
			return e, nil
		}
	}

	e = newValue()
	e.kind = kind
	s.data[key] = e
	return e, nil
}

// Delete removes key unconditionally. Returns true if it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// TypeOf reports the kind of key as the wire-visible string, or "none".
func (s *Store) TypeOf(key string) string {
	e := s.lookup(key)
	if e == nil {
		return KindNone.String()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kind.String()
}

// Keys returns all non-expired keys whose name matches a glob-style
// pattern: '*' matches any run of characters, '?' matches one character,
// and '[...]' matches a character class, the same semantics as
// path.Match/filepath.Match.
func (s *Store) Keys(pattern string) []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.data))
	for k := range s.data {
		names = append(names, k)
	}
	s.mu.RUnlock()

	now := s.nowMs()
	matched := make([]string, 0, len(names))
	for _, k := range names {
		s.mu.RLock()
		e, ok := s.data[k]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.RLock()
		expired := e.expired(now)
		e.mu.RUnlock()
		if expired {
			continue
		}
		if ok, _ := filepath.Match(pattern, k); ok {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	return matched
}

// Len reports the number of (possibly not-yet-lazily-expired) keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// SampleExpired returns up to n keys that have already expired, for the
// active-expiry scheduler to reap. It does not delete them.
func (s *Store) SampleExpired(n int) []string {
	now := s.nowMs()
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make([]string, 0, n)
	for k, e := range s.data {
		e.mu.RLock()
		expired := e.expired(now)
		e.mu.RUnlock()
		if expired {
			found = append(found, k)
			if len(found) >= n {
				break
			}
		}
	}
	return found
}
