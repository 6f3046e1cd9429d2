// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package expiry runs the active-expiry background sweep: a gocron job that
// periodically samples already-expired keys out of the store and deletes
// them, so memory used by expired keys is reclaimed even when nothing ever
// looks them up again (lazy expiry alone only reaps a key the next time a
// client happens to touch it).
package expiry

import (
	"fmt"
	"time"

	"github.com/ClusterCockpit/cc-kvstore/internal/server"
	"github.com/ClusterCockpit/cc-kvstore/internal/store"
	"github.com/ClusterCockpit/cc-kvstore/pkg/log"
	"github.com/go-co-op/gocron/v2"
)

// DefaultInterval matches the active-expiry cycle real Redis targets: often
// enough that expired keys don't linger, rarely enough to not show up in a
// profile.
const DefaultInterval = 100 * time.Millisecond

// DefaultSampleSize bounds how many expired keys a single sweep reaps, the
// same bounded-sample approach Redis's own cycle uses to keep one sweep
// cheap regardless of how many keys the store holds.
const DefaultSampleSize = 20

// Sweeper periodically reaps expired keys from a store. The zero value is
// not usable; construct one with New.
type Sweeper struct {
	store    *store.Store
	srv      *server.Server
	interval time.Duration
	sample   int

	scheduler gocron.Scheduler
}

// New builds a Sweeper. interval or sample <= 0 fall back to the package
// defaults.
func New(st *store.Store, srv *server.Server, interval time.Duration, sample int) (*Sweeper, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if sample <= 0 {
		sample = DefaultSampleSize
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("expiry: create scheduler: %w", err)
	}

	sw := &Sweeper{
		store:     st,
		srv:       srv,
		interval:  interval,
		sample:    sample,
		scheduler: sched,
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sw.sweep),
	); err != nil {
		return nil, fmt.Errorf("expiry: register sweep job: %w", err)
	}

	return sw, nil
}

// Start begins running the sweep on its configured interval. Non-blocking;
// the scheduler runs its own goroutine.
func (sw *Sweeper) Start() {
	sw.scheduler.Start()
}

// Shutdown stops the scheduler and waits for the in-flight sweep, if any, to
// finish.
func (sw *Sweeper) Shutdown() error {
	return sw.scheduler.Shutdown()
}

// sweep is the job body: sample expired keys, delete them, and record how
// many were reaped on the server's keysExpired counter. A key sampled as
// expired but no longer present by the time Delete runs (a racing client
// already triggered its lazy expiry) simply doesn't count twice, since
// Delete reports whether it actually removed anything.
func (sw *Sweeper) sweep() {
	keys := sw.store.SampleExpired(sw.sample)
	if len(keys) == 0 {
		return
	}

	reaped := 0
	for _, k := range keys {
		if sw.store.Delete(k) {
			reaped++
		}
	}
	if reaped == 0 {
		return
	}

	sw.srv.RecordExpired(reaped)
	log.Debugf("expiry: reaped %d keys", reaped)
}
