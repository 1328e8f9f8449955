package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"nighton/server/internal/models"
	"nighton/server/internal/presence"
)

type fakeRows struct {
	mu   sync.Mutex
	rows map[string]models.PresenceRow
}

func (f *fakeRows) FetchPresence(_ context.Context, ids []string) ([]models.PresenceRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PresenceRow
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeConnections []models.Connection

func (f fakeConnections) AcceptedConnections(context.Context, string) ([]models.Connection, error) {
	return f, nil
}

func newTestHub(t *testing.T, idleTTL time.Duration) (*Hub, *int) {
	t.Helper()
	free := "FREE"
	at := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	community := models.ScopeCommunity
	deps := presence.Deps{
		Rows: &fakeRows{rows: map[string]models.PresenceRow{
			"FRIEND01": {AccountID: "FRIEND01", Status: &free, UpdatedAt: &at},
		}},
		Connections:  fakeConnections{{AccountID: "FRIEND01", Relation: &community}},
		PollInterval: time.Hour,
		PollDebounce: -1,
	}

	started := 0
	hub := NewHub(func(viewerID string) *presence.Session {
		started++
		return presence.StartSession(context.Background(), viewerID, deps)
	}, idleTTL, nil)
	return hub, &started
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAcquireSharesSession(t *testing.T) {
	hub, started := newTestHub(t, -1)

	s1, release1, err := hub.Acquire("viewer01")
	if err != nil {
		t.Fatal(err)
	}
	s2, release2, err := hub.Acquire("VIEWER01")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 || *started != 1 {
		t.Fatalf("expected one shared session, started %d", *started)
	}

	release1()
	release1()
	if hub.SessionCount() != 1 {
		t.Fatal("session closed while still acquired")
	}
	release2()
	if hub.SessionCount() != 0 {
		t.Errorf("SessionCount = %d after last release", hub.SessionCount())
	}
}

func TestIdleSessionExpires(t *testing.T) {
	hub, started := newTestHub(t, 20*time.Millisecond)

	_, release, err := hub.Acquire("VIEWER01")
	if err != nil {
		t.Fatal(err)
	}
	release()
	if hub.SessionCount() != 1 {
		t.Fatal("session should outlive its last user for the idle TTL")
	}

	// reuse within the TTL cancels the teardown
	_, release, _ = hub.Acquire("VIEWER01")
	time.Sleep(40 * time.Millisecond)
	if hub.SessionCount() != 1 || *started != 1 {
		t.Fatal("acquired session was torn down")
	}
	release()

	waitFor(t, "idle teardown", func() bool { return hub.SessionCount() == 0 })
}

func TestClientReceivesReconciledRoster(t *testing.T) {
	hub, _ := newTestHub(t, -1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient("viewer01", nil, hub, presence.FilterFree)
	if err := hub.Join(client); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for seen := false; !seen; {
		select {
		case roster := <-client.rosters:
			c, ok := roster.Get("FRIEND01")
			if !ok || c.Status != models.StatusFree {
				continue
			}
			seen = true
			payload := NewSnapshotMessage(roster, client.Filter()).Payload.(SnapshotPayload)
			if len(payload.Contacts) != 1 || payload.Filter != presence.FilterFree {
				t.Errorf("payload = %+v", payload)
			}
		case <-deadline:
			t.Fatal("no roster with the polled contact")
		}
	}

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d", hub.ClientCount())
	}
	hub.Unregister <- client
	waitFor(t, "session teardown", func() bool { return hub.SessionCount() == 0 })
	if _, ok := <-client.Send; ok {
		t.Error("Send should be closed after unregister")
	}
}

func TestHandleIncomingMessage(t *testing.T) {
	hub, _ := newTestHub(t, -1)
	client := NewClient("VIEWER01", nil, hub, "")

	client.handleIncomingMessage(IncomingMessage{Type: EventSetFilter, Payload: map[string]interface{}{"status": "busy"}})
	if client.Filter() != presence.FilterBusy {
		t.Errorf("Filter = %q", client.Filter())
	}

	client.handleIncomingMessage(IncomingMessage{Type: "typing_start"})
	var msg struct {
		Type    EventType    `json:"type"`
		Payload ErrorPayload `json:"payload"`
	}
	if err := json.Unmarshal(<-client.Send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != EventError || msg.Payload.Code != "unknown_type" {
		t.Errorf("got %+v", msg)
	}
}

func TestNotifyKeepsLatest(t *testing.T) {
	client := NewClient("VIEWER01", nil, nil, "")
	first := presence.NewRoster(nil)
	second := presence.NewRoster([]models.Contact{models.NewContact("A", models.ScopePublic)})

	client.notify(first)
	client.notify(second)
	if got := <-client.rosters; got != second {
		t.Error("pending roster should be replaced by the newest one")
	}
}

func TestJoinAfterShutdown(t *testing.T) {
	hub, _ := newTestHub(t, time.Minute)
	_, release, err := hub.Acquire("VIEWER01")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	if hub.SessionCount() != 0 {
		t.Error("shutdown should close every session")
	}
	if err := hub.Join(NewClient("VIEWER01", nil, hub, "")); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Join err = %v", err)
	}
	if _, _, err := hub.Acquire("VIEWER02"); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Acquire err = %v", err)
	}
}
