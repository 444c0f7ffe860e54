package scheduler

import (
	"testing"
	"time"
)

func newStartedService(t *testing.T) *Service {
	t.Helper()

	svc, err := New()
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	svc.Start()
	t.Cleanup(func() {
		_ = svc.Stop()
	})
	return svc
}

func TestScheduleOnceRuns(t *testing.T) {
	svc := newStartedService(t)

	fired := make(chan struct{}, 1)
	if _, err := svc.ScheduleOnce("once", time.Now().Add(20*time.Millisecond), func() {
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("schedule once: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected one-time job to fire")
	}
}

func TestScheduleOnceInThePastRunsImmediately(t *testing.T) {
	svc := newStartedService(t)

	fired := make(chan struct{}, 1)
	if _, err := svc.ScheduleOnce("past", time.Now().Add(-time.Minute), func() {
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("schedule once: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected past job to fire immediately")
	}
}

func TestScheduleOnceCancel(t *testing.T) {
	svc := newStartedService(t)

	fired := make(chan struct{}, 1)
	cancel, err := svc.ScheduleOnce("cancelled", time.Now().Add(200*time.Millisecond), func() {
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("schedule once: %v", err)
	}
	cancel()
	cancel()

	select {
	case <-fired:
		t.Fatal("expected cancelled job not to fire")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestAddJobValidation(t *testing.T) {
	svc := newStartedService(t)

	if _, err := svc.AddJob(" ", "* * * * *", func() {}); err != ErrEmptyJobName {
		t.Fatalf("expected ErrEmptyJobName, got %v", err)
	}
	if _, err := svc.AddJob("prune", "", func() {}); err != ErrEmptyCronExpr {
		t.Fatalf("expected ErrEmptyCronExpr, got %v", err)
	}
	if _, err := svc.AddJob("prune", "*/5 * * * *", func() {}); err != nil {
		t.Fatalf("add job: %v", err)
	}
	if _, err := svc.ScheduleOnce("", time.Now(), func() {}); err != ErrEmptyJobName {
		t.Fatalf("expected ErrEmptyJobName, got %v", err)
	}
}

func TestNilServiceReturnsNotInitialized(t *testing.T) {
	var svc *Service
	if err := svc.Stop(); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := svc.ScheduleOnce("x", time.Now(), func() {}); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
