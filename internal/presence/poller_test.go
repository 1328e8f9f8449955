package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"nighton/server/internal/models"
)

func TestPollOnceSeedsAndMerges(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, nil)
	rows := newMemRows(row("A", "FREE", "20:00:00", base), row("B", "BUSY", "", base))
	conns := &memConnections{conns: []models.Connection{{AccountID: "a"}, {AccountID: "b"}}}

	p := NewPoller(rec, PollerConfig{Rows: rows, Connections: conns, Debounce: -1})

	res, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Published {
		t.Error("first poll should publish")
	}
	if c, _ := rec.Roster().Get("A"); c.Status != models.StatusFree || c.AvailableFrom != "20:00" {
		t.Errorf("A = %s %q", c.Status, c.AvailableFrom)
	}
	if c, _ := rec.Roster().Get("B"); c.Status != models.StatusBusy {
		t.Errorf("B = %s", c.Status)
	}
	if rows.callCount() != 1 {
		t.Errorf("FetchPresence called %d times, want one batched call", rows.callCount())
	}
}

func TestPollOnceWithoutContacts(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, nil)
	rows := newMemRows()

	p := NewPoller(rec, PollerConfig{Rows: rows, Debounce: -1})
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rows.callCount() != 0 {
		t.Error("empty id set must not hit the store")
	}
}

func TestPollOnceFallsBackToLastIDs(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, nil)
	rows := newMemRows()

	p := NewPoller(rec, PollerConfig{Rows: rows, Debounce: -1})
	p.lastIDs = []string{"A", "B"}

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rows.callCount() != 1 || len(rows.calls[0]) != 2 {
		t.Errorf("calls = %v, want one call with the last known ids", rows.calls)
	}
}

func TestPollOnceReturnsFetchError(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}})
	rows := newMemRows()
	rows.err = errors.New("connection refused")

	p := NewPoller(rec, PollerConfig{Rows: rows, Debounce: -1})
	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if c, _ := rec.Roster().Get("A"); c.Status != models.StatusUnset {
		t.Errorf("failed poll changed roster: %+v", c)
	}
}

func TestPollOnceDebounceHonoursCancel(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}})
	rows := newMemRows(row("A", "FREE", "20:00", base))

	p := NewPoller(rec, PollerConfig{Rows: rows, Debounce: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.PollOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestPollerRunAndWake(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}})
	rows := newMemRows(row("A", "FREE", "20:00", base))

	p := NewPoller(rec, PollerConfig{Rows: rows, Interval: time.Hour, Debounce: -1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "initial poll", func() bool { return rows.callCount() == 1 })
	p.Wake()
	waitFor(t, "wake poll", func() bool { return rows.callCount() == 2 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
