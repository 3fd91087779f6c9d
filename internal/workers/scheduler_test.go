package workers

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsDueTasks(t *testing.T) {
	s := New(nil)

	var count atomic.Int32
	if err := s.Add("tick", 10*time.Millisecond, func() error {
		count.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count.Load() == 0 {
		t.Fatal("task never ran")
	}
}

func TestSchedulerRejectsAddAfterStart(t *testing.T) {
	s := New(nil)
	s.Start()
	defer s.Stop()

	err := s.Add("late", time.Second, func() error { return nil })
	if err == nil {
		t.Fatal("Add() after Start() returned nil error")
	}
}

func TestSchedulerRejectsPastTaskLimit(t *testing.T) {
	s := New(nil)
	for i := 0; i < maxTasks; i++ {
		if err := s.Add("t", time.Hour, func() error { return nil }); err != nil {
			t.Fatalf("Add() error at %d: %v", i, err)
		}
	}
	if err := s.Add("overflow", time.Hour, func() error { return nil }); err == nil {
		t.Fatal("Add() past maxTasks returned nil error")
	}
}

func TestSchedulerStopIsIdempotentAndWaits(t *testing.T) {
	s := New(nil)
	s.Start()
	s.Stop()
	s.Stop() // must not block or panic
}
