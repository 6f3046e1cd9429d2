// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replication tracks connected followers and propagates the
// master's write stream to them. A follower is registered on a successful
// PSYNC handshake and torn down when its outbound queue backs up or its
// connection task exits, mirroring the teacher's checkpoint worker/channel
// shape: a bounded channel per follower, filled by Broadcast and drained by
// the connection's own writer goroutine.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
	"github.com/segmentio/ksuid"
	"golang.org/x/time/rate"
)

// State is a follower's position in the replication handshake.
type State int

const (
	Handshaking State = iota
	Streaming
	Closed
)

func (st State) String() string {
	switch st {
	case Handshaking:
		return "handshaking"
	case Streaming:
		return "streaming"
	default:
		return "closed"
	}
}

// outboundQueueSize bounds how many pending frames a follower's writer
// goroutine may fall behind by before it is demoted to Closed.
const outboundQueueSize = 100

// Replica is one connected follower.
type Replica struct {
	ID ksuid.KSUID

	mu        sync.Mutex
	state     State
	ackOffset int64
	outbound  chan []byte
}

func newReplica() *Replica {
	return &Replica{
		ID:       ksuid.New(),
		state:    Handshaking,
		outbound: make(chan []byte, outboundQueueSize),
	}
}

// Outbound is the channel a follower's connection-writer goroutine drains.
func (r *Replica) Outbound() <-chan []byte {
	return r.outbound
}

func (r *Replica) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Replica) AckOffset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ackOffset
}

// Manager tracks every currently registered follower and the master's
// propagated write offset (total bytes handed to Broadcast).
type Manager struct {
	mu       sync.Mutex
	replicas map[ksuid.KSUID]*Replica
	offset   int64

	// demoteLogLimiter caps how often a full-queue demotion gets logged, so
	// a follower wedged during a write burst produces one warning a second
	// instead of flooding the log once per command.
	demoteLogLimiter *rate.Limiter
}

func New() *Manager {
	return &Manager{
		replicas:         make(map[ksuid.KSUID]*Replica),
		demoteLogLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Register completes the handshake side-effect-free part of PSYNC: it
// creates the follower record in Handshaking state. The caller is
// responsible for sending the FULLRESYNC reply and empty RDB payload, then
// calling MarkStreaming once that has gone out.
func (m *Manager) Register() *Replica {
	r := newReplica()
	m.mu.Lock()
	m.replicas[r.ID] = r
	m.mu.Unlock()
	return r
}

// MarkStreaming transitions r to Streaming once the FULLRESYNC handshake
// has been written to the wire; only after this does Broadcast enqueue
// writes for it.
func (m *Manager) MarkStreaming(r *Replica) {
	r.mu.Lock()
	r.state = Streaming
	r.mu.Unlock()
}

// Unregister removes r from the registry, e.g. once its connection task
// exits.
func (m *Manager) Unregister(r *Replica) {
	m.mu.Lock()
	delete(m.replicas, r.ID)
	m.mu.Unlock()
}

// Ack records a REPLCONF ACK offset report from a follower. Offsets only
// move forward; a stale or out-of-order ACK is ignored.
func (m *Manager) Ack(id ksuid.KSUID, offset int64) {
	m.mu.Lock()
	r := m.replicas[id]
	m.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	if offset > r.ackOffset {
		r.ackOffset = offset
	}
	r.mu.Unlock()
}

// Broadcast enqueues bytes, verbatim, to every Streaming follower's
// outbound queue and advances the master offset by len(bytes). A follower
// whose queue is already full can't keep up and is demoted to Closed
// rather than blocking the broadcaster or other followers.
func (m *Manager) Broadcast(bytes []byte) {
	m.mu.Lock()
	m.offset += int64(len(bytes))
	targets := make([]*Replica, 0, len(m.replicas))
	for _, r := range m.replicas {
		targets = append(targets, r)
	}
	m.mu.Unlock()

	for _, r := range targets {
		if r.State() != Streaming {
			continue
		}
		select {
		case r.outbound <- bytes:
		default:
			r.mu.Lock()
			r.state = Closed
			r.mu.Unlock()
			if m.demoteLogLimiter.Allow() {
				log.Warnf("replication: follower %s outbound queue full, demoting to closed", r.ID)
			}
		}
	}
}

// Offset returns the master's current propagated write offset.
func (m *Manager) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// Count returns the number of followers currently in Streaming state, for
// INFO REPLICATION.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.replicas {
		if r.state == Streaming {
			n++
		}
	}
	return n
}

// WaitForAcks blocks until at least n Streaming followers have acknowledged
// an offset >= the master's offset at the time of the call, or timeout
// elapses (zero means no timeout). It polls rather than parking on a
// per-ACK notifier: REPLCONF ACK arrives on each follower's own connection
// goroutine, and acks-reached is a property of the whole fleet, not any
// single one of them, so a short poll loop is simpler and cheap at typical
// fleet sizes. Returns the number of followers that met the bar, which may
// be less than n.
func (m *Manager) WaitForAcks(ctx context.Context, n int, timeout time.Duration) int {
	target := m.Offset()
	if got := m.acksAtLeast(target); got >= n {
		return got
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.acksAtLeast(target)
		case <-deadline:
			return m.acksAtLeast(target)
		case <-ticker.C:
			if got := m.acksAtLeast(target); got >= n {
				return got
			}
		}
	}
}

func (m *Manager) acksAtLeast(offset int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.replicas {
		r.mu.Lock()
		if r.state == Streaming && r.ackOffset >= offset {
			n++
		}
		r.mu.Unlock()
	}
	return n
}
