// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import "strconv"

// Set unconditionally replaces any existing entry under key, including one
// of a different kind. When expiryMs > 0 the entry expires that many
// milliseconds from now.
func (s *Store) Set(key string, value []byte, expiryMs int64) {
	e := &entry{kind: KindString, str: append([]byte(nil), value...)}
	if expiryMs > 0 {
		e.expiresAt = s.nowMs() + expiryMs
	}

	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
}

// Get returns the byte value stored under key, or (nil, false) if absent or
// expired.
func (s *Store) Get(key string) ([]byte, bool) {
	e := s.lookup(key)
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindString {
		return nil, false
	}
	return e.str, true
}

// Incr parses the current value as a signed 64-bit integer, adds one, and
// stores the result back as its decimal string form. An absent key starts
// at 1. Returns ErrNotInteger (and leaves the value untouched) if the
// existing value doesn't parse, and ErrWrongType if the key holds a
// non-string value.
func (s *Store) Incr(key string) (int64, error) {
	e, err := s.getOrCreate(key, KindString, func() *entry {
		return &entry{str: []byte("0")}
	})
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := strconv.ParseInt(string(e.str), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	e.str = []byte(strconv.FormatInt(n, 10))
	return n, nil
}
