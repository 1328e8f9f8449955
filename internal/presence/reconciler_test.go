package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nighton/server/internal/models"
)

type publishCounter struct {
	mu      sync.Mutex
	rosters []*Roster
}

func (p *publishCounter) hook(r *Roster) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rosters = append(p.rosters, r)
}

func (p *publishCounter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rosters)
}

func TestReconcilerSeedsContacts(t *testing.T) {
	rel := newMemRelations()
	_ = rel.SetRelation(context.Background(), viewer, "CACHED", models.ScopePrivate)
	dir := newMemDirectory()
	_ = dir.StoreProfile(context.Background(), "HINTED", "Hana", "https://example.com/h.png")

	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{
		{AccountID: "cached", Relation: scopep(models.ScopeCommunity)},
		{AccountID: "hinted", Relation: scopep(models.ScopeCommunity)},
		{AccountID: "plain"},
		{AccountID: viewer},
		{AccountID: "plain"},
	}, WithRelations(rel), WithDirectory(dir))

	roster := rec.Roster()
	if roster.Len() != 3 {
		t.Fatalf("roster has %d contacts, want 3: %v", roster.Len(), roster.IDs())
	}
	if roster.Has(viewer) {
		t.Error("viewer must not appear in own roster")
	}

	tests := []struct {
		id       string
		relation models.Scope
		name     string
	}{
		{"CACHED", models.ScopePrivate, "CACHED"},
		{"HINTED", models.ScopeCommunity, "Hana"},
		{"PLAIN", models.ScopePublic, "PLAIN"},
	}
	for _, tt := range tests {
		c, ok := roster.Get(tt.id)
		if !ok {
			t.Errorf("%s missing", tt.id)
			continue
		}
		if c.RelationScope != tt.relation || c.Name != tt.name || c.Status != models.StatusUnset {
			t.Errorf("%s = %+v, want relation %s name %q", tt.id, c, tt.relation, tt.name)
		}
	}
}

func TestReconcilerEnsureContactsKeepsExisting(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}})
	ctx := context.Background()

	if _, err := rec.Apply(ctx, SourcePoll, row("A", "FREE", "20:00", base)); err != nil {
		t.Fatal(err)
	}
	res, err := rec.EnsureContacts(ctx, []models.Connection{{AccountID: "a", Relation: scopep(models.ScopePrivate)}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Published {
		t.Error("re-seeding a known contact should not publish")
	}
	c, _ := rec.Roster().Get("A")
	if c.Status != models.StatusFree || c.RelationScope != models.ScopePublic {
		t.Errorf("existing contact was reset: %+v", c)
	}
}

// poll and push deliver the same row within a second
func TestReconcilerPollAndPushRaceProducesOneTransition(t *testing.T) {
	var pubs publishCounter
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}}, WithPublishHook(pubs.hook))
	ctx := context.Background()
	before := pubs.count()

	r := row("A", "FREE", "20:00", base)
	first, err := rec.Apply(ctx, SourcePoll, r)
	if err != nil {
		t.Fatal(err)
	}
	second, err := rec.Apply(ctx, SourcePush, r)
	if err != nil {
		t.Fatal(err)
	}

	if !first.Published || second.Published {
		t.Errorf("published = %v, %v; want true, false", first.Published, second.Published)
	}
	if second.Outcomes["A"] != OutcomeUnchanged {
		t.Errorf("second outcome = %s, want unchanged", second.Outcomes["A"])
	}
	if got := pubs.count() - before; got != 1 {
		t.Errorf("visible transitions = %d, want 1", got)
	}
}

func TestReconcilerSkipsUnknownContacts(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}})

	res, err := rec.Apply(context.Background(), SourcePush, row("STRANGER", "FREE", "20:00", base))
	if err != nil {
		t.Fatal(err)
	}
	if res.Published || rec.Roster().Has("STRANGER") {
		t.Error("rows for non-contacts must not enter the roster")
	}
	if res.Outcomes["STRANGER"] != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", res.Outcomes["STRANGER"])
	}
}

func TestReconcilerBatchMergesSequentially(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}})

	res, err := rec.Apply(context.Background(), SourcePoll,
		row("A", "FREE", "20:00", base.Add(10*time.Second)),
		row("A", "BUSY", "", base),
	)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcomes["A"] != OutcomeStale {
		t.Errorf("last outcome = %s, want stale", res.Outcomes["A"])
	}
	c, _ := rec.Roster().Get("A")
	if c.Status != models.StatusFree {
		t.Errorf("status = %s, older row in the same batch won", c.Status)
	}
}

func TestReconcilerSetRelationThenPollRevealsPresence(t *testing.T) {
	rel := newMemRelations()
	m, _ := newTestMerger(WithRelationStore(rel))
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}}, WithRelations(rel))
	ctx := context.Background()

	r := row("A", "FREE", "20:00", base)
	r.ShareScope = strp("COMMUNITY")
	if _, err := rec.Apply(ctx, SourcePoll, r); err != nil {
		t.Fatal(err)
	}
	if c, _ := rec.Roster().Get("A"); c.Status != models.StatusBusy {
		t.Fatalf("status = %s before relation change, want BUSY", c.Status)
	}

	c, err := rec.SetRelation(ctx, "a", models.ScopeCommunity)
	if err != nil {
		t.Fatal(err)
	}
	if c.RelationScope != models.ScopeCommunity {
		t.Errorf("relation = %s", c.RelationScope)
	}
	if got, _, _ := rel.GetRelation(ctx, viewer, "A"); got != models.ScopeCommunity {
		t.Errorf("persisted relation = %s", got)
	}

	// the coalescer still holds the hidden snapshot; the new relation resolves to FREE
	res, err := rec.Apply(ctx, SourcePoll, r)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcomes["A"] != OutcomeApplied {
		t.Errorf("outcome = %s, want applied", res.Outcomes["A"])
	}
	if c, _ := rec.Roster().Get("A"); c.Status != models.StatusFree || c.AvailableFrom != "20:00" {
		t.Errorf("after relation change got %s %q", c.Status, c.AvailableFrom)
	}
}

func TestReconcilerSetRelationUnknown(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, nil)

	if _, err := rec.SetRelation(context.Background(), "NOBODY", models.ScopePrivate); !errors.Is(err, ErrUnknownContact) {
		t.Errorf("err = %v, want ErrUnknownContact", err)
	}
}

func TestReconcilerRemembersProfiles(t *testing.T) {
	dir := newMemDirectory()
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}}, WithDirectory(dir))

	r := row("A", "FREE", "20:00", base)
	r.Name = strp("Aiko")
	if _, err := rec.Apply(context.Background(), SourcePoll, r); err != nil {
		t.Fatal(err)
	}
	name, _, ok, _ := dir.LookupProfile(context.Background(), "A")
	if !ok || name != "Aiko" {
		t.Errorf("directory entry = %q, %v", name, ok)
	}
}

func TestReconcilerSubscribeSeesLatest(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A"}})
	ctx := context.Background()

	ch, cancel := rec.Subscribe()
	defer cancel()

	for i, status := range []string{"FREE", "BUSY", "FREE"} {
		if _, err := rec.Apply(ctx, SourcePoll, row("A", status, "20:00", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case r := <-ch:
		if r.Version() != rec.Roster().Version() {
			t.Errorf("subscriber got version %d, latest is %d", r.Version(), rec.Roster().Version())
		}
	case <-time.After(time.Second):
		t.Fatal("no roster delivered")
	}

	cancel()
	if _, err := rec.Apply(ctx, SourcePoll, row("A", "BUSY", "", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
		t.Error("roster delivered after unsubscribe")
	default:
	}
}

func TestReconcilerStopped(t *testing.T) {
	m, _ := newTestMerger()
	rec := NewReconciler(viewer, m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	cancel()
	<-done

	if _, err := rec.Apply(context.Background(), SourcePoll, row("A", "FREE", "", base)); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}
