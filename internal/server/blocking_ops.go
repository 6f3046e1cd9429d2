// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"context"
	"time"

	"github.com/ClusterCockpit/cc-kvstore/internal/command"
	"github.com/ClusterCockpit/cc-kvstore/internal/resp"
	"github.com/ClusterCockpit/cc-kvstore/internal/store"
)

// ExecuteBlocking runs BLPOP, XREAD (with or without BLOCK), and WAIT itself
// and hands every other command to ExecuteCommand. BLPOP, XREAD with BLOCK
// and WAIT may suspend the caller; the session is expected to run these
// on a detached goroutine keyed to the connection's own context, since a
// blocked client must still notice the connection dropping. A zero timeout
// in cmd means "wait indefinitely" and ctx must be the only way out.
func (s *Server) ExecuteBlocking(ctx context.Context, cmd command.Command) resp.Value {
	switch cmd.Kind {
	case command.BLPop:
		return s.execBLPop(ctx, cmd)
	case command.XRead:
		return s.execXRead(ctx, cmd)
	case command.Wait:
		return s.execWait(ctx, cmd)
	default:
		return s.ExecuteCommand(cmd)
	}
}

// execBLPop replicates cmd.Raw (the original BLPOP wire bytes) verbatim once
// a pop actually succeeds, consistent with every other write command's
// propagation: replicas receive exactly what the client sent, not a
// translated LPOP.
func (s *Server) execBLPop(ctx context.Context, cmd command.Command) resp.Value {
	if v, ok := s.tryBLPop(cmd.Keys); ok {
		s.Replicas.Broadcast(cmd.Raw)
		return v
	}

	waiter, cancel := s.Blocking.SubscribeList(cmd.Keys)
	defer func() { cancel() }()

	deadline, stop := deadlineChan(cmd.TimeoutMs)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return resp.NullArray()
		case <-deadline:
			return resp.NullArray()
		case <-waiter.Wait():
			if v, ok := s.tryBLPop(cmd.Keys); ok {
				s.Replicas.Broadcast(cmd.Raw)
				return v
			}
			// Woken but another waiter raced us to the value; keep waiting on
			// a fresh subscription since this waiter already fired once.
			waiter, cancel = s.Blocking.SubscribeList(cmd.Keys)
		}
	}
}

// tryBLPop attempts a non-blocking LPOP across keys in order, returning the
// two-element [key, value] array BLPOP replies with on success.
func (s *Server) tryBLPop(keys []string) (resp.Value, bool) {
	for _, k := range keys {
		items, existed, err := s.Store.ListPop(k, 1)
		if err != nil || !existed || len(items) == 0 {
			continue
		}
		return resp.ArrayValue([]resp.Value{
			resp.BulkStringValue([]byte(k)),
			resp.BulkStringValue(items[0]),
		}), true
	}
	return resp.Value{}, false
}

func (s *Server) execXRead(ctx context.Context, cmd command.Command) resp.Value {
	// "$" means "only entries appended after this call starts"; resolve it
	// once, up front, against each stream's current last ID.
	resolved := make([]store.StreamID, len(cmd.Streams))
	keys := make([]string, len(cmd.Streams))
	for i, q := range cmd.Streams {
		keys[i] = q.Key
		if q.ID == "$" {
			resolved[i] = s.Store.LastStreamID(q.Key)
			continue
		}
		id, err := store.ParseStreamID(q.ID)
		if err != nil {
			return resp.ErrorValue("ERR Invalid stream ID specified as stream command argument")
		}
		resolved[i] = id
	}

	if v, ok, err := s.tryXRead(keys, resolved); err != nil {
		return storeErrorValue(err)
	} else if ok {
		return v
	}

	if !cmd.HasBlock {
		return resp.NullArray()
	}

	waiter, cancel := s.Blocking.SubscribeStream(keys)
	defer func() { cancel() }()

	deadline, stop := deadlineChan(cmd.BlockMs)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return resp.NullArray()
		case <-deadline:
			return resp.NullArray()
		case <-waiter.Wait():
			v, ok, err := s.tryXRead(keys, resolved)
			if err != nil {
				return storeErrorValue(err)
			}
			if ok {
				return v
			}
			waiter, cancel = s.Blocking.SubscribeStream(keys)
		}
	}
}

// tryXRead reads, per stream, every entry after the resolved ID. Streams
// with nothing new are omitted from the reply entirely; if every stream is
// empty the whole read reports no data yet.
func (s *Server) tryXRead(keys []string, after []store.StreamID) (resp.Value, bool, error) {
	var items []resp.Value
	for i, k := range keys {
		entries, err := s.Store.ReadStreamAfter(k, after[i])
		if err != nil {
			return resp.Value{}, false, err
		}
		if len(entries) == 0 {
			continue
		}
		items = append(items, resp.ArrayValue([]resp.Value{
			resp.BulkStringValue([]byte(k)),
			streamEntriesArray(entries),
		}))
	}
	if len(items) == 0 {
		return resp.Value{}, false, nil
	}
	return resp.ArrayValue(items), true, nil
}

// execWait probes every follower for its current ACK offset, then polls
// until n of them have caught up to the master's offset as of this call, or
// the timeout elapses.
func (s *Server) execWait(ctx context.Context, cmd command.Command) resp.Value {
	s.Replicas.Broadcast(resp.EncodeBulkStringArray([]byte("REPLCONF"), []byte("GETACK"), []byte("*")))

	timeout := time.Duration(cmd.TimeoutMs) * time.Millisecond
	got := s.Replicas.WaitForAcks(ctx, int(cmd.N), timeout)
	return resp.IntegerValue(int64(got))
}

// deadlineChan returns a channel that fires after ms milliseconds, or a
// channel that never fires when ms is zero ("wait indefinitely"). stop must
// be called to release the underlying timer.
func deadlineChan(ms int64) (<-chan time.Time, func()) {
	if ms <= 0 {
		return nil, func() {}
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	return timer.C, func() { timer.Stop() }
}
