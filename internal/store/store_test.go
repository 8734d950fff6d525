package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"queuectl/internal/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueGeneratesIDAndRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)

	j, err := s.Enqueue(job.Job{Command: "echo hi"}, 1000)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.ID == "" {
		t.Fatalf("expected generated id")
	}

	_, err = s.Enqueue(job.Job{ID: j.ID, Command: "echo hi"}, 1001)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestClaimNextOrdersByCreatedAtThenID(t *testing.T) {
	s := newTestStore(t)

	_, _ = s.Enqueue(job.Job{ID: "b", Command: "echo b"}, 100)
	_, _ = s.Enqueue(job.Job{ID: "a", Command: "echo a"}, 100)
	_, _ = s.Enqueue(job.Job{ID: "c", Command: "echo c"}, 200)

	first, err := s.ClaimNext(1000)
	if err != nil || first == nil {
		t.Fatalf("claim 1: %v %v", first, err)
	}
	if first.ID != "a" {
		t.Fatalf("expected tie-break on id, got %s", first.ID)
	}

	second, err := s.ClaimNext(1000)
	if err != nil || second == nil || second.ID != "b" {
		t.Fatalf("claim 2: %v %v", second, err)
	}
}

func TestClaimNextSkipsFutureJobs(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Enqueue(job.Job{ID: "future", Command: "echo", RunAfter: 5000}, 100)

	j, err := s.ClaimNext(1000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j != nil {
		t.Fatalf("expected no eligible job, got %+v", j)
	}

	j, err = s.ClaimNext(5000)
	if err != nil || j == nil {
		t.Fatalf("expected job eligible once due: %v %v", j, err)
	}
}

func TestCompleteAndResetProcessingRequireProcessingState(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Enqueue(job.Job{ID: "j1", Command: "echo"}, 100)

	if err := s.Complete("j1", 200); err == nil {
		t.Fatalf("expected error completing a pending (not processing) job")
	}
	if err := s.ResetProcessing("j1", 200); err == nil {
		t.Fatalf("expected error resetting a pending (not processing) job")
	}

	if _, err := s.ClaimNext(100); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Complete("j1", 200); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Complete("j1", 300); err == nil {
		t.Fatalf("completing twice should fail: terminal states are absorbing")
	}
	if err := s.ResetProcessing("j1", 300); err == nil {
		t.Fatalf("resetting a completed job should fail: terminal states are absorbing")
	}
}

func TestResetProcessingDoesNotTouchAttempts(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Enqueue(job.Job{ID: "j1", Command: "sleep 1"}, 100)
	if _, err := s.ClaimNext(100); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := s.ResetProcessing("j1", 200); err != nil {
		t.Fatalf("reset: %v", err)
	}

	jobs, err := s.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].State != job.StatePending || jobs[0].Attempts != 0 {
		t.Fatalf("unexpected state after reset: %+v", jobs)
	}
}

func TestRequeueDeadOnlyAffectsDeadRows(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Enqueue(job.Job{ID: "j1", Command: "false"}, 100)

	if err := s.RequeueDead("j1", 200); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a pending job, got %v", err)
	}

	if _, err := s.ClaimNext(100); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Fail("j1", 5, job.StateDead, 0, 300); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.RequeueDead("j1", 400); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	jobs, _ := s.List("")
	if jobs[0].State != job.StatePending || jobs[0].Attempts != 0 || jobs[0].RunAfter != 0 {
		t.Fatalf("requeue should reset attempts/run_after: %+v", jobs[0])
	}
}

func TestGetReturnsNotFoundForMissingJob(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Enqueue(job.Job{ID: "j1", Command: "echo"}, 100)

	got, err := s.Get("j1")
	if err != nil || got.ID != "j1" {
		t.Fatalf("get: %+v %v", got, err)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfigSetValidatesAndPersists(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.SetConfig("max_retries", "-1"); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := s.SetConfig("max_retries", "7"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	v, ok, err := s.GetConfig("max_retries")
	if err != nil || !ok || v != "7" {
		t.Fatalf("get config: %v %v %v", v, ok, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = s.Enqueue(job.Job{ID: "j1", Command: "echo hi"}, 100)
	_, _ = s.SetConfig("max_retries", "9")

	if err := s.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Dirty() {
		t.Fatalf("snapshot should clear the dirty flag")
	}
	s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot file on disk: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	jobs, err := s2.List("")
	if err != nil || len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("expected restored job, got %+v err=%v", jobs, err)
	}
	v, ok, _ := s2.GetConfig("max_retries")
	if !ok || v != "9" {
		t.Fatalf("expected restored config, got %v %v", v, ok)
	}
}
