// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-kvstore/internal/blocking"
	"github.com/ClusterCockpit/cc-kvstore/internal/config"
	"github.com/ClusterCockpit/cc-kvstore/internal/pubsub"
	"github.com/ClusterCockpit/cc-kvstore/internal/replication"
	"github.com/ClusterCockpit/cc-kvstore/internal/resp"
	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/internal/store"
)

func newTestPair(t *testing.T) (client net.Conn, srv *server.Server) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	bc := blocking.New()
	st := store.New(store.Hooks{OnListPush: bc.NotifyList, OnStreamAppend: bc.NotifyStream})
	srv = server.New(st, bc, pubsub.New(), replication.New(), nil, config.ProgramConfig{Port: "6379"})

	sess := New(serverConn, srv)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Serve(ctx)

	return clientConn, srv
}

func sendCommand(t *testing.T, conn net.Conn, argv ...string) {
	t.Helper()
	operands := make([][]byte, len(argv))
	for i, a := range argv {
		operands[i] = []byte(a)
	}
	if _, err := conn.Write(resp.EncodeBulkStringArray(operands...)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readReply(t *testing.T, conn net.Conn) resp.Value {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := resp.NewReader(conn)
	v, err := r.ReadValue()
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	return v
}

func TestSessionPingPong(t *testing.T) {
	conn, _ := newTestPair(t)
	sendCommand(t, conn, "PING")
	v := readReply(t, conn)
	if v.Kind != resp.SimpleString || v.Str != "PONG" {
		t.Fatalf("got %+v", v)
	}
}

func TestSessionSetGetRoundTrip(t *testing.T) {
	conn, _ := newTestPair(t)
	sendCommand(t, conn, "SET", "foo", "bar")
	if v := readReply(t, conn); v.Kind != resp.SimpleString || v.Str != "OK" {
		t.Fatalf("SET got %+v", v)
	}
	sendCommand(t, conn, "GET", "foo")
	v := readReply(t, conn)
	if v.Kind != resp.BulkString || string(v.Bulk) != "bar" {
		t.Fatalf("GET got %+v", v)
	}
}

func TestSessionMultiExecRunsQueuedCommandsAsOneBatch(t *testing.T) {
	conn, _ := newTestPair(t)

	sendCommand(t, conn, "MULTI")
	if v := readReply(t, conn); v.Kind != resp.SimpleString || v.Str != "OK" {
		t.Fatalf("MULTI got %+v", v)
	}

	sendCommand(t, conn, "SET", "a", "1")
	if v := readReply(t, conn); v.Kind != resp.SimpleString || v.Str != "QUEUED" {
		t.Fatalf("queue SET got %+v", v)
	}
	sendCommand(t, conn, "INCR", "a")
	if v := readReply(t, conn); v.Kind != resp.SimpleString || v.Str != "QUEUED" {
		t.Fatalf("queue INCR got %+v", v)
	}

	sendCommand(t, conn, "EXEC")
	v := readReply(t, conn)
	if v.Kind != resp.Array || len(v.Items) != 2 {
		t.Fatalf("EXEC got %+v", v)
	}
	if v.Items[0].Str != "OK" || v.Items[1].Int != 2 {
		t.Fatalf("EXEC results %+v", v.Items)
	}
}

func TestSessionDiscardDropsQueuedCommands(t *testing.T) {
	conn, _ := newTestPair(t)

	sendCommand(t, conn, "MULTI")
	readReply(t, conn)
	sendCommand(t, conn, "SET", "a", "1")
	readReply(t, conn)
	sendCommand(t, conn, "DISCARD")
	if v := readReply(t, conn); v.Kind != resp.SimpleString || v.Str != "OK" {
		t.Fatalf("DISCARD got %+v", v)
	}

	sendCommand(t, conn, "GET", "a")
	v := readReply(t, conn)
	if v.Kind != resp.BulkString || !v.IsNull {
		t.Fatalf("expected discarded SET to never have run, got %+v", v)
	}
}

func TestSessionExecAbortsOnDirtyQueue(t *testing.T) {
	conn, _ := newTestPair(t)

	sendCommand(t, conn, "MULTI")
	readReply(t, conn)
	sendCommand(t, conn, "NOTACOMMAND")
	if v := readReply(t, conn); v.Kind != resp.Error {
		t.Fatalf("expected an immediate error queueing an invalid command, got %+v", v)
	}
	sendCommand(t, conn, "EXEC")
	v := readReply(t, conn)
	if v.Kind != resp.Error {
		t.Fatalf("expected EXECABORT, got %+v", v)
	}
}

func TestSessionPublishSubscribeDelivers(t *testing.T) {
	subConn, srv := newTestPair(t)
	sendCommand(t, subConn, "SUBSCRIBE", "news")
	v := readReply(t, subConn)
	if v.Kind != resp.Array || string(v.Items[0].Bulk) != "subscribe" {
		t.Fatalf("got %+v", v)
	}

	// Give the subscription's forwarder goroutine a moment to register
	// before publishing, since Subscribe itself happens synchronously but
	// the forwarder starts concurrently.
	time.Sleep(20 * time.Millisecond)
	n := srv.PubSub.Publish("news", []byte("hello"))
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	msg := readReply(t, subConn)
	if msg.Kind != resp.Array || len(msg.Items) != 3 || string(msg.Items[0].Bulk) != "message" {
		t.Fatalf("got %+v", msg)
	}
	if string(msg.Items[1].Bulk) != "news" || string(msg.Items[2].Bulk) != "hello" {
		t.Fatalf("got %+v", msg.Items)
	}
}

func TestSessionSubscribedModeRejectsOrdinaryCommands(t *testing.T) {
	conn, _ := newTestPair(t)
	sendCommand(t, conn, "SUBSCRIBE", "news")
	readReply(t, conn)

	sendCommand(t, conn, "GET", "foo")
	if v := readReply(t, conn); v.Kind != resp.Error {
		t.Fatalf("expected GET to be rejected in Subscribed mode, got %+v", v)
	}

	sendCommand(t, conn, "PING")
	if v := readReply(t, conn); v.Kind != resp.SimpleString || v.Str != "PONG" {
		t.Fatalf("expected PING to still be allowed, got %+v", v)
	}
}

func TestSessionBlockingCommandDoesNotStallPipeline(t *testing.T) {
	conn, srv := newTestPair(t)

	sendCommand(t, conn, "BLPOP", "mylist", "0")
	// The read loop must keep consuming frames while BLPOP is parked on its
	// own goroutine, so a command sent right after it gets answered first.
	sendCommand(t, conn, "PING")
	if v := readReply(t, conn); v.Kind != resp.SimpleString || v.Str != "PONG" {
		t.Fatalf("expected PING to be answered ahead of the still-blocked BLPOP, got %+v", v)
	}

	srv.Store.ListPush("mylist", [][]byte{[]byte("a")}, false)
	srv.Blocking.NotifyList("mylist")

	v := readReply(t, conn)
	if v.Kind != resp.Array || len(v.Items) != 2 {
		t.Fatalf("expected BLPOP's eventual reply, got %+v", v)
	}
	if string(v.Items[0].Bulk) != "mylist" || string(v.Items[1].Bulk) != "a" {
		t.Fatalf("got %+v", v.Items)
	}
}
