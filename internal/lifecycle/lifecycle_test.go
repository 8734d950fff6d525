package lifecycle

import (
	"testing"
	"time"
)

func TestRefusedOnlyAfterShutdownBegins(t *testing.T) {
	c := New()
	if c.Refused() {
		t.Fatalf("should accept work while running")
	}
	c.BeginShutdown()
	if !c.Refused() {
		t.Fatalf("should refuse work once shutdown begins")
	}
}

func TestQuiescedNotifiesDrainedOnce(t *testing.T) {
	c := New()
	c.BeginShutdown()

	done := make(chan struct{})
	go func() {
		<-c.Drained()
		close(done)
	}()

	c.Quiesced()
	c.Quiesced() // must not panic on a second call

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Drained never closed")
	}

	if c.Phase() != Exiting {
		t.Fatalf("expected Exiting, got %v", c.Phase())
	}
}

func TestQuiescedBeforeShutdownIsIgnored(t *testing.T) {
	c := New()
	c.Quiesced()
	if c.Phase() != Running {
		t.Fatalf("quiescence before shutdown should not change phase, got %v", c.Phase())
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{Running: "running", ShuttingDown: "shutting_down", Exiting: "exiting"}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Fatalf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
