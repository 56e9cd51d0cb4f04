package types

import (
	"testing"
	"time"
)

func TestRealClock_AfterFunc(t *testing.T) {
	clock := NewRealClock()

	fired := make(chan struct{})
	clock.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Expected AfterFunc callback to run")
	}

	stopped := clock.AfterFunc(time.Hour, func() { t.Error("Expected stopped callback not to run") })
	if !stopped.Stop() {
		t.Error("Expected Stop to cancel a pending callback")
	}
	if stopped.Stop() {
		t.Error("Expected a second Stop to report nothing pending")
	}
}
