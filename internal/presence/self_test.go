package presence

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"nighton/server/internal/models"
)

type memWriter struct {
	accountID string
	written   models.SelfPresence
	at        time.Time
	err       error
}

func (w *memWriter) UpsertPresence(_ context.Context, accountID string, p models.SelfPresence, at time.Time) error {
	if w.err != nil {
		return w.err
	}
	w.accountID, w.written, w.at = accountID, p, at
	return nil
}

func testRoster() *Roster {
	return NewRoster([]models.Contact{
		models.NewContact("CLOSE", models.ScopePrivate),
		models.NewContact("FRIEND", models.ScopeCommunity),
		models.NewContact("ACQ", models.ScopePublic),
	})
}

func TestPrepareSelfBusyClearsFields(t *testing.T) {
	out, err := PrepareSelf(models.SelfPresence{
		Status:        models.StatusBusy,
		AvailableFrom: "20:00",
		Message:       "dinner?",
	}, testRoster())

	if err != nil || out.Status != models.StatusBusy || out.AvailableFrom != "" || out.Message != "" {
		t.Errorf("got %+v", out)
	}
}

func TestPrepareSelfFreeDefaultsTime(t *testing.T) {
	out, _ := PrepareSelf(models.SelfPresence{Status: models.StatusFree, Message: "  ramen  "}, nil)
	if out.AvailableFrom != DefaultAvailableFrom {
		t.Errorf("AvailableFrom = %q, want %q", out.AvailableFrom, DefaultAvailableFrom)
	}
	if out.Message != "ramen" {
		t.Errorf("Message = %q", out.Message)
	}

	out, _ = PrepareSelf(models.SelfPresence{Status: models.StatusFree, AvailableFrom: "7:30:00"}, nil)
	if out.AvailableFrom != "07:30" {
		t.Errorf("AvailableFrom = %q, want 07:30", out.AvailableFrom)
	}
}

func TestPrepareSelfPrunesRecipients(t *testing.T) {
	tests := []struct {
		name  string
		scope *models.Scope
		in    []string
		want  []string
	}{
		{"public keeps contacts", scopep(models.ScopePublic), []string{"close", "acq", "stranger"}, []string{"CLOSE", "ACQ"}},
		{"community drops public relations", scopep(models.ScopeCommunity), []string{"CLOSE", "FRIEND", "ACQ"}, []string{"CLOSE", "FRIEND"}},
		{"private keeps only close", scopep(models.ScopePrivate), []string{"CLOSE", "FRIEND"}, []string{"CLOSE"}},
		{"no list stays open", scopep(models.ScopeCommunity), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := PrepareSelf(models.SelfPresence{Status: models.StatusFree, ShareScope: tt.scope, VisibleTo: tt.in}, testRoster())
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(out.VisibleTo, tt.want) {
				t.Errorf("VisibleTo = %v, want %v", out.VisibleTo, tt.want)
			}
		})
	}
}

func TestPrepareSelfRefusesEmptiedRecipientList(t *testing.T) {
	tests := []struct {
		name  string
		scope *models.Scope
		in    []string
	}{
		{"only public contact under community", scopep(models.ScopeCommunity), []string{"ACQ"}},
		{"only friend under private", scopep(models.ScopePrivate), []string{"friend"}},
		{"strangers only", scopep(models.ScopePublic), []string{"NOBODY"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := PrepareSelf(models.SelfPresence{Status: models.StatusFree, ShareScope: tt.scope, VisibleTo: tt.in}, testRoster())
			if !errors.Is(err, ErrNoRecipients) {
				t.Fatalf("err = %v, want ErrNoRecipients (out %+v)", err, out)
			}
		})
	}

	// an unchosen contact must never see a FREE share meant for someone else
	out, err := PrepareSelf(models.SelfPresence{
		Status:     models.StatusFree,
		ShareScope: scopep(models.ScopeCommunity),
		VisibleTo:  []string{"ACQ"},
	}, testRoster())
	if err == nil {
		if IsVisible("FRIEND", out.ShareScope, out.VisibleTo, models.ScopeCommunity) ||
			IsVisible("CLOSE", out.ShareScope, out.VisibleTo, models.ScopePrivate) {
			t.Errorf("unchosen contacts can see %+v", out)
		}
	}
}

func TestPrepareSelfBusyKeepsChosenList(t *testing.T) {
	out, err := PrepareSelf(models.SelfPresence{
		Status:     models.StatusBusy,
		ShareScope: scopep(models.ScopePrivate),
		VisibleTo:  []string{"acq"},
	}, testRoster())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.VisibleTo, []string{"ACQ"}) {
		t.Errorf("VisibleTo = %v, want the chosen list kept", out.VisibleTo)
	}
}

func TestPublisherRejectsEmptiedRecipientList(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A", Relation: scopep(models.ScopePublic)}})
	w := &memWriter{}
	p := NewPublisher(rec, w, nil)

	_, err := p.Publish(context.Background(), models.SelfPresence{
		Status:     models.StatusFree,
		ShareScope: scopep(models.ScopePrivate),
		VisibleTo:  []string{"A"},
	})
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("err = %v, want ErrNoRecipients", err)
	}
	if w.accountID != "" {
		t.Error("nothing should be written")
	}
}

func TestPublisherWritesPreparedPresence(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, []models.Connection{{AccountID: "A", Relation: scopep(models.ScopeCommunity)}})
	w := &memWriter{}
	p := NewPublisher(rec, w, func() time.Time { return base })

	out, err := p.Publish(context.Background(), models.SelfPresence{
		Status:     models.StatusFree,
		ShareScope: scopep(models.ScopeCommunity),
		VisibleTo:  []string{"a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.accountID != viewer || !w.at.Equal(base) {
		t.Errorf("wrote %s at %v", w.accountID, w.at)
	}
	if !reflect.DeepEqual(w.written, out) || out.AvailableFrom != DefaultAvailableFrom {
		t.Errorf("written %+v, returned %+v", w.written, out)
	}
	if rec.Roster().Has(viewer) {
		t.Error("self presence leaked into the roster")
	}
}

func TestPublisherWrapsWriteError(t *testing.T) {
	m, _ := newTestMerger()
	rec := startReconciler(t, m, nil)
	cause := errors.New("db down")
	p := NewPublisher(rec, &memWriter{err: cause}, nil)

	if _, err := p.Publish(context.Background(), models.SelfPresence{Status: models.StatusBusy}); !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped %v", err, cause)
	}
}

func TestFormDefaultsPriority(t *testing.T) {
	roster := testRoster()
	settings := &models.PresenceDefaults{
		DefaultAvailableFrom: "21:30",
		DefaultShareScope:    scopep(models.ScopePrivate),
		SharedWith:           []string{"close"},
	}

	out := FormDefaults(nil, nil, roster)
	if out.AvailableFrom != "19:00" || *out.ShareScope != models.ScopeCommunity || len(out.VisibleTo) != 3 {
		t.Errorf("fallback = %+v", out)
	}

	out = FormDefaults(nil, settings, roster)
	if out.AvailableFrom != "21:30" || *out.ShareScope != models.ScopePrivate || !reflect.DeepEqual(out.VisibleTo, []string{"CLOSE"}) {
		t.Errorf("settings = %+v", out)
	}

	r := row("VIEWERID", "FREE", "20:00:00", base)
	r.ShareScope = strp("PUBLIC")
	r.VisibleTo = []string{"acq"}
	out = FormDefaults(&r, settings, roster)
	if out.Status != models.StatusFree || out.AvailableFrom != "20:00" || *out.ShareScope != models.ScopePublic ||
		!reflect.DeepEqual(out.VisibleTo, []string{"ACQ"}) {
		t.Errorf("users row = %+v", out)
	}
}
