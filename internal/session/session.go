// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session runs one connection's request/response lifecycle: decode
// a frame, dispatch it against the shared server, encode the reply. It
// transplants the teacher's HTTP request-handling shape (decode, authorize,
// execute, respond) onto a persistent RESP connection instead of a single
// HTTP round trip, and borrows the buffer-then-commit shape of the
// teacher's SQL transaction helper for MULTI/EXEC: statements queue up and
// run as one unit, or are discarded, rather than executing as they arrive.
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/ClusterCockpit/cc-kvstore/internal/command"
	"github.com/ClusterCockpit/cc-kvstore/internal/pubsub"
	"github.com/ClusterCockpit/cc-kvstore/internal/replication"
	"github.com/ClusterCockpit/cc-kvstore/internal/resp"
	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
)

// Mode is the connection's current interaction state. A connection is in
// exactly one of these at a time; SUBSCRIBE and MULTI are mutually
// exclusive the way real Redis treats them.
type Mode int

const (
	Normal Mode = iota
	Transacting
	Subscribed
)

// Session owns one client connection end to end: reading frames, routing
// them against the shared Server, and writing replies. Every exported
// method on Server is safe for concurrent use, so a Session's own locks only
// serialize its writes to the wire and guard its subscription set.
type Session struct {
	conn net.Conn
	srv  *server.Server
	r    *resp.Reader

	writeMu sync.Mutex
	w       *bufio.Writer

	mode    Mode
	txQueue []command.Command
	txDirty bool

	subMu sync.Mutex
	subs  map[string]*pubsub.Subscription

	// wg tracks detached blocking commands (see runDetached) so Serve can
	// wait for them to notice ctx cancellation before the connection's
	// teardown completes.
	wg sync.WaitGroup
}

func New(conn net.Conn, srv *server.Server) *Session {
	return &Session{
		conn: conn,
		srv:  srv,
		r:    resp.NewReader(conn),
		w:    bufio.NewWriter(conn),
		subs: make(map[string]*pubsub.Subscription),
	}
}

// Serve runs the connection's dispatch loop until the client disconnects,
// sends QUIT, or ctx is cancelled (process shutdown). It never returns an
// error: every failure is either a normal disconnect or gets logged and
// treated as one.
func (s *Session) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	// Closing the connection on cancellation unblocks a pending read, so the
	// loop below ends when ctx does.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	defer s.closeSubscriptions()
	defer s.conn.Close()
	defer s.wg.Wait()
	defer cancel()

	for {
		argv, err := s.readCommand()
		if err != nil {
			return
		}

		cmd := command.Parse(argv)
		if cmd.Kind == command.Psync {
			s.servePsync(ctx)
			return
		}
		if !s.handle(ctx, cmd) {
			return
		}
	}
}

// readCommand reads the next client request. Clients always send commands
// as an array of bulk strings; anything else is a protocol violation and
// closes the connection, matching real Redis's inline-command-free wire
// contract for this server.
func (s *Session) readCommand() ([][]byte, error) {
	v, err := s.r.ReadValue()
	if err != nil {
		return nil, err
	}
	if v.Kind != resp.Array || v.IsNull {
		return nil, fmt.Errorf("session: expected a command array, got kind %q", v.Kind)
	}
	argv := make([][]byte, len(v.Items))
	for i, item := range v.Items {
		if item.Kind != resp.BulkString {
			return nil, fmt.Errorf("session: command argument %d is not a bulk string", i)
		}
		argv[i] = item.Bulk
	}
	return argv, nil
}

// handle dispatches one parsed command and reports whether the connection
// should stay open.
func (s *Session) handle(ctx context.Context, cmd command.Command) bool {
	switch {
	case cmd.Kind == command.Quit:
		s.write(resp.SimpleStringValue("OK"))
		return false
	case s.mode == Subscribed && !subscribedModeAllows(cmd.Kind):
		return s.replyAndContinue(resp.ErrorValue(
			"ERR only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"))
	case cmd.Kind == command.Multi:
		return s.replyAndContinue(s.cmdMulti())
	case cmd.Kind == command.Exec:
		return s.replyAndContinue(s.cmdExec(ctx))
	case cmd.Kind == command.Discard:
		return s.replyAndContinue(s.cmdDiscard())
	case cmd.Kind == command.Subscribe:
		return s.replyAndContinue(s.cmdSubscribe(cmd))
	case cmd.Kind == command.Unsubscribe:
		return s.replyAndContinue(s.cmdUnsubscribe(cmd))
	case cmd.Kind == command.Replconf:
		return s.replyAndContinue(s.cmdReplconf(cmd))
	case s.mode == Transacting:
		return s.replyAndContinue(s.queue(cmd))
	case cmd.IsBlocking():
		s.runDetached(ctx, cmd)
		return true
	default:
		return s.replyAndContinue(s.srv.ExecuteBlocking(ctx, cmd))
	}
}

// subscribedModeAllows reports whether kind is one of the commands real
// Redis still accepts from a connection that has entered Subscribed mode.
func subscribedModeAllows(kind command.Kind) bool {
	switch kind {
	case command.Subscribe, command.Unsubscribe, command.Ping:
		return true
	default:
		return false
	}
}

// runDetached spawns a blocking command (BLPOP, a blocking XREAD, WAIT) on
// its own goroutine and writes its eventual reply whenever it resolves, so
// the connection's read loop keeps consuming pipelined frames instead of
// stalling for the duration of the block. wg lets Serve wait for any
// in-flight detached command to observe ctx cancellation and return before
// the connection is fully torn down.
func (s *Session) runDetached(ctx context.Context, cmd command.Command) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.write(s.srv.ExecuteBlocking(ctx, cmd))
	}()
}

func (s *Session) replyAndContinue(v resp.Value) bool {
	s.write(v)
	return true
}

func (s *Session) write(v resp.Value) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.w.Write(resp.Encode(nil, v))
	s.w.Flush()
}

func (s *Session) cmdMulti() resp.Value {
	if s.mode == Transacting {
		return resp.ErrorValue("ERR MULTI calls can not be nested")
	}
	s.mode = Transacting
	s.txQueue = nil
	s.txDirty = false
	return resp.SimpleStringValue("OK")
}

func (s *Session) cmdDiscard() resp.Value {
	if s.mode != Transacting {
		return resp.ErrorValue("ERR DISCARD without MULTI")
	}
	s.mode = Normal
	s.txQueue = nil
	s.txDirty = false
	return resp.SimpleStringValue("OK")
}

func (s *Session) queue(cmd command.Command) resp.Value {
	if cmd.Kind == command.Invalid {
		s.txDirty = true
		return resp.ErrorValue("ERR " + cmd.InvalidReason)
	}
	s.txQueue = append(s.txQueue, cmd)
	return resp.SimpleStringValue("QUEUED")
}

// cmdExec runs every queued command as one batch. A dirty transaction (one
// that queued an invalid command) aborts without executing anything.
// Queued commands that could block (BLPOP, a blocking XREAD, WAIT) run
// against an already-cancelled context instead, so they resolve to their
// empty/zero reply immediately rather than suspending the whole batch --
// the same non-blocking-inside-a-transaction behavior real Redis gives
// these commands.
func (s *Session) cmdExec(ctx context.Context) resp.Value {
	if s.mode != Transacting {
		return resp.ErrorValue("ERR EXEC without MULTI")
	}
	queue := s.txQueue
	dirty := s.txDirty
	s.mode = Normal
	s.txQueue = nil
	s.txDirty = false

	if dirty {
		return resp.ErrorValue("EXECABORT Transaction discarded because of previous errors.")
	}

	nonBlocking, cancel := context.WithCancel(ctx)
	cancel()

	replies := make([]resp.Value, len(queue))
	for i, cmd := range queue {
		replies[i] = s.srv.ExecuteBlocking(nonBlocking, cmd)
	}
	return resp.ArrayValue(replies)
}

func (s *Session) cmdSubscribe(cmd command.Command) resp.Value {
	s.subMu.Lock()
	if _, already := s.subs[cmd.Channel]; !already {
		sub := s.srv.PubSub.Subscribe(cmd.Channel)
		s.subs[cmd.Channel] = sub
		go s.forward(cmd.Channel, sub)
	}
	count := len(s.subs)
	s.subMu.Unlock()

	s.mode = Subscribed
	return resp.ArrayValue([]resp.Value{
		resp.BulkStringValue([]byte("subscribe")),
		resp.BulkStringValue([]byte(cmd.Channel)),
		resp.IntegerValue(int64(count)),
	})
}

func (s *Session) cmdUnsubscribe(cmd command.Command) resp.Value {
	s.subMu.Lock()
	channels := []string{cmd.Channel}
	if cmd.Channel == "" {
		channels = channels[:0]
		for ch := range s.subs {
			channels = append(channels, ch)
		}
	}
	for _, ch := range channels {
		if sub, ok := s.subs[ch]; ok {
			sub.Close()
			delete(s.subs, ch)
		}
	}
	count := len(s.subs)
	s.subMu.Unlock()

	if count == 0 {
		s.mode = Normal
	}
	ch := cmd.Channel
	if len(channels) > 0 {
		ch = channels[0]
	}
	return resp.ArrayValue([]resp.Value{
		resp.BulkStringValue([]byte("unsubscribe")),
		resp.BulkStringValue([]byte(ch)),
		resp.IntegerValue(int64(count)),
	})
}

// forward drains one subscription's message queue onto the wire as
// RESP "message" pushes until the subscription is closed (by UNSUBSCRIBE
// or connection teardown).
func (s *Session) forward(channel string, sub *pubsub.Subscription) {
	for msg := range sub.Messages() {
		s.write(resp.ArrayValue([]resp.Value{
			resp.BulkStringValue([]byte("message")),
			resp.BulkStringValue([]byte(channel)),
			resp.BulkStringValue(msg),
		}))
	}
}

func (s *Session) closeSubscriptions() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch, sub := range s.subs {
		sub.Close()
		delete(s.subs, ch)
	}
}

// cmdReplconf answers the handful of REPLCONF subcommands a follower sends
// outside the replica-streaming loop itself (capability announcements
// during the handshake). REPLCONF ACK is handled inline by servePsync once
// streaming has started, not here.
func (s *Session) cmdReplconf(cmd command.Command) resp.Value {
	return resp.SimpleStringValue("OK")
}

// servePsync upgrades the connection to a replica-streaming link: it
// replies FULLRESYNC plus the empty RDB payload, marks the follower
// Streaming, then runs a writer goroutine draining its outbound queue while
// the calling goroutine keeps reading REPLCONF ACK reports off the same
// connection until it closes.
func (s *Session) servePsync(parent context.Context) {
	replica := s.srv.Replicas.Register()
	defer s.srv.Replicas.Unregister(replica)

	// Scoped to this handshake rather than reused from parent: the read
	// loop below cancels it the moment the follower's connection drops, so
	// the writer goroutine isn't left parked on a channel that will never
	// receive again.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.write(resp.SimpleStringValue(replication.FullresyncReply(s.srv.ReplID, s.srv.Replicas.Offset())))

	payload := replication.EmptyRDBPayload()
	s.writeMu.Lock()
	s.w.WriteString(fmt.Sprintf("$%d\r\n", len(payload)))
	s.w.Write(payload)
	s.w.Flush()
	s.writeMu.Unlock()

	s.srv.Replicas.MarkStreaming(replica)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case b, ok := <-replica.Outbound():
				if !ok {
					return
				}
				s.writeMu.Lock()
				s.w.Write(b)
				s.w.Flush()
				s.writeMu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		argv, err := s.readCommand()
		if err != nil {
			break
		}
		cmd := command.Parse(argv)
		if cmd.Kind != command.Replconf || len(cmd.ReplconfArgs) < 2 || strings.ToUpper(cmd.ReplconfArgs[0]) != "ACK" {
			continue
		}
		offset, err := strconv.ParseInt(cmd.ReplconfArgs[1], 10, 64)
		if err != nil {
			continue
		}
		s.srv.Replicas.Ack(replica.ID, offset)
	}

	cancel()
	<-done
	log.Debugf("session: replica %s disconnected", replica.ID)
}
