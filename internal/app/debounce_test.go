package app

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_RunsLastTriggerOnce(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var calls, last atomic.Int32
	done := make(chan struct{}, 4)
	for i := int32(1); i <= 3; i++ {
		i := i
		d.Trigger(func() {
			calls.Add(1)
			last.Store(i)
			done <- struct{}{}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced call never ran")
	}
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("got %d calls, want 1", calls.Load())
	}
	if last.Load() != 3 {
		t.Fatalf("ran trigger %d, want 3", last.Load())
	}
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("got %d calls after Stop, want 0", calls.Load())
	}
}
