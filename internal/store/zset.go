// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import "sort"

// zsetValue holds unique members each with a decimal score. Scores are
// arbitrary-precision at the protocol boundary but compared as IEEE 754
// doubles for ordering, per the spec's "stable comparison is the contract"
// note; ordering is recomputed on demand rather than kept incrementally
// sorted, trading a little CPU on range queries for a much simpler,
// obviously-correct implementation.
type zsetValue struct {
	scores map[string]float64
}

func newZSetValue() *zsetValue {
	return &zsetValue{scores: make(map[string]float64)}
}

// Member is one (member, score) pair in ascending iteration order.
type Member struct {
	Name  string
	Score float64
}

func (z *zsetValue) sorted() []Member {
	out := make([]Member, 0, len(z.scores))
	for m, sc := range z.scores {
		out = append(out, Member{Name: m, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ZAdd returns 1 if member was newly inserted, 0 if an existing member's
// score was updated.
func (s *Store) ZAdd(key string, score float64, member string) (int, error) {
	e, err := s.getOrCreate(key, KindZSet, func() *entry {
		return &entry{zset: newZSetValue()}
	})
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, existed := e.zset.scores[member]
	e.zset.scores[member] = score
	if existed {
		return 0, nil
	}
	return 1, nil
}

// ZRank returns the 0-based ascending-order index of member, or
// (0, false) if the key or member is absent.
func (s *Store) ZRank(key, member string) (int, bool, error) {
	e := s.lookup(key)
	if e == nil {
		return 0, false, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindZSet {
		return 0, false, ErrWrongType
	}
	if _, ok := e.zset.scores[member]; !ok {
		return 0, false, nil
	}
	for i, m := range e.zset.sorted() {
		if m.Name == member {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// ZRange returns members in ascending order with inclusive, negative-
// supporting, clamped bounds, the same index semantics as ListRange.
func (s *Store) ZRange(key string, start, end int64) ([]Member, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindZSet {
		return nil, ErrWrongType
	}

	sorted := e.zset.sorted()
	n := int64(len(sorted))
	if n == 0 {
		return []Member{}, nil
	}
	start = clampIndex(start, n)
	end = clampIndex(end, n)
	if start > end {
		return []Member{}, nil
	}
	return sorted[start : end+1], nil
}

// ZCard returns the number of members, or zero if absent.
func (s *Store) ZCard(key string) (int, error) {
	e := s.lookup(key)
	if e == nil {
		return 0, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindZSet {
		return 0, ErrWrongType
	}
	return len(e.zset.scores), nil
}

// ZScore returns member's score, or (0, false) if absent.
func (s *Store) ZScore(key, member string) (float64, bool, error) {
	e := s.lookup(key)
	if e == nil {
		return 0, false, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.kind != KindZSet {
		return 0, false, ErrWrongType
	}
	sc, ok := e.zset.scores[member]
	return sc, ok, nil
}

// ZRem removes member, returning the number removed (0 or 1).
func (s *Store) ZRem(key, member string) (int, error) {
	e := s.lookup(key)
	if e == nil {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kind != KindZSet {
		return 0, ErrWrongType
	}
	if _, ok := e.zset.scores[member]; !ok {
		return 0, nil
	}
	delete(e.zset.scores, member)
	return 1, nil
}
