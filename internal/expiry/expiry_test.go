// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package expiry

import (
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-kvstore/internal/blocking"
	"github.com/ClusterCockpit/cc-kvstore/internal/config"
	"github.com/ClusterCockpit/cc-kvstore/internal/pubsub"
	"github.com/ClusterCockpit/cc-kvstore/internal/replication"
	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestServer() (*store.Store, *server.Server) {
	bc := blocking.New()
	st := store.New(store.Hooks{OnListPush: bc.NotifyList, OnStreamAppend: bc.NotifyStream})
	srv := server.New(st, bc, pubsub.New(), replication.New(), nil, config.ProgramConfig{})
	return st, srv
}

func TestSweepReapsExpiredKeysAndRecordsCounter(t *testing.T) {
	st, srv := newTestServer()
	st.Set("gone", []byte("1"), 1)
	st.Set("also-gone", []byte("2"), 1)
	st.Set("stays", []byte("3"), 0)

	time.Sleep(5 * time.Millisecond)

	sw, err := New(st, srv, time.Hour, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sw.sweep()

	if n := st.Len(); n != 1 {
		t.Fatalf("expected 1 surviving key, got %d", n)
	}
	if _, ok := st.Get("stays"); !ok {
		t.Fatalf("expected the non-expiring key to survive the sweep")
	}

	collectors := srv.Collectors()
	got := testutil.ToFloat64(collectors[1])
	if got != 2 {
		t.Fatalf("expected keysExpired counter at 2, got %v", got)
	}
}

func TestSweepIsNoopWhenNothingExpired(t *testing.T) {
	st, srv := newTestServer()
	st.Set("stays", []byte("1"), 0)

	sw, err := New(st, srv, time.Hour, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sw.sweep()

	if n := st.Len(); n != 1 {
		t.Fatalf("expected the key to survive, got len=%d", n)
	}
	if got := testutil.ToFloat64(srv.Collectors()[1]); got != 0 {
		t.Fatalf("expected keysExpired counter at 0, got %v", got)
	}
}

func TestStartAndShutdown(t *testing.T) {
	st, srv := newTestServer()
	st.Set("gone", []byte("1"), 1)

	sw, err := New(st, srv, 5*time.Millisecond, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sw.Start()
	time.Sleep(50 * time.Millisecond)
	if err := sw.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if n := st.Len(); n != 0 {
		t.Fatalf("expected the scheduled sweep to have reaped the expired key, got len=%d", n)
	}
}
