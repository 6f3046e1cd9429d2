// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package blocking

import (
	"testing"
	"time"
)

func TestNotifyListWakesExactlyOneWaiter(t *testing.T) {
	c := New()
	w1, cancel1 := c.SubscribeList([]string{"k"})
	w2, cancel2 := c.SubscribeList([]string{"k"})
	defer cancel1()
	defer cancel2()

	c.NotifyList("k")

	select {
	case <-w1.Wait():
	case <-time.After(time.Second):
		t.Fatalf("w1 should have been woken first (FIFO)")
	}

	select {
	case <-w2.Wait():
		t.Fatalf("w2 should not have been woken by a single push")
	default:
	}
}

func TestNotifyStreamWakesAllWaiters(t *testing.T) {
	c := New()
	w1, cancel1 := c.SubscribeStream([]string{"k"})
	w2, cancel2 := c.SubscribeStream([]string{"k"})
	defer cancel1()
	defer cancel2()

	c.NotifyStream("k")

	for _, w := range []Waiter{w1, w2} {
		select {
		case <-w.Wait():
		case <-time.After(time.Second):
			t.Fatalf("expected all stream waiters to be woken")
		}
	}
}

func TestCancelRemovesWaiterFromQueue(t *testing.T) {
	c := New()
	_, cancel := c.SubscribeList([]string{"k"})
	cancel()

	if n := len(c.listWaiters["k"]); n != 0 {
		t.Fatalf("expected queue to be empty after cancel, got %d", n)
	}
}

func TestMultiKeyBLPopWakesOnlyOnce(t *testing.T) {
	c := New()
	w, cancel := c.SubscribeList([]string{"a", "b"})
	defer cancel()

	c.NotifyList("a")
	c.NotifyList("b")

	woken := 0
	select {
	case <-w.Wait():
		woken++
	case <-time.After(time.Second):
		t.Fatalf("expected waiter to be woken")
	}
	if woken != 1 {
		t.Fatalf("got %d wakeups", woken)
	}
}
