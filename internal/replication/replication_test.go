// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"context"
	"testing"
	"time"
)

func TestBroadcastOnlyReachesStreamingReplicas(t *testing.T) {
	m := New()
	r := m.Register()

	m.Broadcast([]byte("SET a b"))
	select {
	case <-r.Outbound():
		t.Fatalf("Handshaking replica should not receive broadcasts yet")
	default:
	}

	m.MarkStreaming(r)
	m.Broadcast([]byte("SET a b"))
	select {
	case got := <-r.Outbound():
		if string(got) != "SET a b" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected broadcast to reach streaming replica")
	}
}

func TestBroadcastAdvancesOffset(t *testing.T) {
	m := New()
	m.Broadcast([]byte("12345"))
	if got := m.Offset(); got != 5 {
		t.Fatalf("got %d", got)
	}
}

func TestAckOnKnownReplicaRecordsOffset(t *testing.T) {
	m := New()
	r := m.Register()
	m.MarkStreaming(r)
	m.Ack(r.ID, 10) // known replica, should apply
	if got := r.AckOffset(); got != 10 {
		t.Fatalf("got %d", got)
	}
}

func TestWaitForAcksReturnsWhenThresholdMet(t *testing.T) {
	m := New()
	r1 := m.Register()
	r2 := m.Register()
	m.MarkStreaming(r1)
	m.MarkStreaming(r2)

	m.Broadcast([]byte("hello"))
	m.Ack(r1.ID, m.Offset())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := m.WaitForAcks(ctx, 1, 2*time.Second)
	if got < 1 {
		t.Fatalf("got %d", got)
	}
}

func TestWaitForAcksTimesOutWhenUnmet(t *testing.T) {
	m := New()
	r := m.Register()
	m.MarkStreaming(r)
	m.Broadcast([]byte("hello"))

	ctx := context.Background()
	start := time.Now()
	got := m.WaitForAcks(ctx, 1, 50*time.Millisecond)
	if got != 0 {
		t.Fatalf("got %d", got)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long")
	}
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	pub, priv, err := newTestEd25519Key()
	if err != nil {
		t.Fatalf("key gen: %v", err)
	}
	issuer := NewTokenIssuer(priv, pub, time.Minute)

	token, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Verify(token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
