package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"nighton/server/internal/models"
)

const viewer = "VIEWERID"

func strp(s string) *string { return &s }

func scopep(s models.Scope) *models.Scope { return &s }

func timep(t time.Time) *time.Time { return &t }

var base = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func row(id, status, from string, ts time.Time) models.PresenceRow {
	r := models.PresenceRow{AccountID: id}
	if status != "" {
		r.Status = strp(status)
	}
	if from != "" {
		r.AvailableFrom = strp(from)
	}
	if !ts.IsZero() {
		r.UpdatedAt = timep(ts)
	}
	return r
}

type memRelations struct {
	mu     sync.Mutex
	m      map[string]models.Scope
	writes int
}

func newMemRelations() *memRelations {
	return &memRelations{m: make(map[string]models.Scope)}
}

func (r *memRelations) GetRelation(_ context.Context, viewerID, accountID string) (models.Scope, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[viewerID+"/"+accountID]
	return s, ok, nil
}

func (r *memRelations) SetRelation(_ context.Context, viewerID, accountID string, scope models.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[viewerID+"/"+accountID] = scope
	r.writes++
	return nil
}

type memDirectory struct {
	mu       sync.Mutex
	profiles map[string][2]string
}

func newMemDirectory() *memDirectory {
	return &memDirectory{profiles: make(map[string][2]string)}
}

func (d *memDirectory) LookupProfile(_ context.Context, accountID string) (string, string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[accountID]
	return p[0], p[1], ok, nil
}

func (d *memDirectory) StoreProfile(_ context.Context, accountID, name, avatarURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[accountID] = [2]string{name, avatarURL}
	return nil
}

type memRows struct {
	mu    sync.Mutex
	rows  map[string]models.PresenceRow
	calls [][]string
	err   error
}

func newMemRows(rows ...models.PresenceRow) *memRows {
	m := &memRows{rows: make(map[string]models.PresenceRow)}
	for _, r := range rows {
		m.rows[r.AccountID] = r
	}
	return m
}

func (m *memRows) FetchPresence(_ context.Context, ids []string) ([]models.PresenceRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), ids...))
	if m.err != nil {
		return nil, m.err
	}
	var out []models.PresenceRow
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRows) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type memConnections struct {
	mu    sync.Mutex
	conns []models.Connection
}

func (c *memConnections) AcceptedConnections(context.Context, string) ([]models.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Connection(nil), c.conns...), nil
}

type memFeed struct {
	mu         sync.Mutex
	handlers   map[int]func(models.ChangeEvent)
	next       int
	subscribes int
}

func newMemFeed() *memFeed {
	return &memFeed{handlers: make(map[int]func(models.ChangeEvent))}
}

func (f *memFeed) Subscribe(h func(models.ChangeEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = h
	f.subscribes++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}, nil
}

func (f *memFeed) publish(ev models.ChangeEvent) {
	f.mu.Lock()
	hs := make([]func(models.ChangeEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *memFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// startReconciler runs a reconciler seeded with contacts until the test ends
func startReconciler(t *testing.T, merger *Merger, contacts []models.Connection, opts ...ReconcilerOption) *Reconciler {
	t.Helper()
	rec := NewReconciler(viewer, merger, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if len(contacts) > 0 {
		if _, err := rec.EnsureContacts(context.Background(), contacts); err != nil {
			t.Fatalf("EnsureContacts failed: %v", err)
		}
	}
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
