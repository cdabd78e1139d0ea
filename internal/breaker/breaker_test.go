package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestManagerTripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(2, time.Minute)
	boom := errors.New("boom")

	if err := m.Do("feed-a", func() error { return boom }); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := m.Do("feed-a", func() error { return boom }); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}

	err := m.Do("feed-a", func() error { return nil })
	if err == nil {
		t.Fatalf("expected breaker to be open after 2 consecutive failures")
	}
}

func TestManagerKeysAreIndependent(t *testing.T) {
	m := NewManager(1, time.Minute)
	boom := errors.New("boom")

	m.Do("feed-a", func() error { return boom })
	if m.State("feed-a") != "open" {
		t.Fatalf("expected feed-a breaker open, got %s", m.State("feed-a"))
	}
	if m.State("feed-b") != "closed" {
		t.Fatalf("expected feed-b breaker to remain closed, got %s", m.State("feed-b"))
	}
}

func TestManagerStateValueMatchesState(t *testing.T) {
	m := NewManager(1, time.Minute)
	boom := errors.New("boom")

	if got := m.StateValue("never-used"); got != 0 {
		t.Fatalf("expected closed (0) for an unused key, got %v", got)
	}

	m.Do("feed-a", func() error { return boom })
	if got := m.StateValue("feed-a"); got != 2 {
		t.Fatalf("expected open (2) after tripping, got %v", got)
	}
}
