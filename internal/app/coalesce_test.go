package app

import (
	"testing"
	"time"
)

func TestCoalescerFoldsBurst(t *testing.T) {
	c := newCoalescer(20 * time.Millisecond)

	for i := 0; i < 10; i++ {
		c.Trigger()
	}

	select {
	case <-c.C:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("coalescer never fired")
	}

	// The burst must collapse into that single firing.
	select {
	case <-c.C:
		t.Fatal("burst produced more than one firing")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestCoalescerRearmsAfterFiring(t *testing.T) {
	c := newCoalescer(5 * time.Millisecond)

	c.Trigger()
	select {
	case <-c.C:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("first firing missing")
	}

	c.Trigger()
	select {
	case <-c.C:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("second firing missing")
	}
}

func TestCoalescerAbsorbsWhileUnconsumed(t *testing.T) {
	c := newCoalescer(time.Millisecond)

	c.Trigger()
	time.Sleep(20 * time.Millisecond)
	// Firing sits unconsumed in the channel; further triggers must not queue.
	c.Trigger()
	time.Sleep(20 * time.Millisecond)

	<-c.C
	select {
	case <-c.C:
		t.Fatal("unconsumed firing should absorb later triggers")
	case <-time.After(20 * time.Millisecond):
	}
}
