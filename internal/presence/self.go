package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nighton/server/internal/models"
)

// DefaultAvailableFrom is used when the viewer goes FREE without a time
const DefaultAvailableFrom = "19:00"

// PresenceWriter persists the viewer's own presence row
type PresenceWriter interface {
	UpsertPresence(ctx context.Context, accountID string, p models.SelfPresence, at time.Time) error
}

// ErrNoRecipients is returned when every recipient the viewer chose is
// pruned. Publishing an empty list would open the share to the whole scope.
var ErrNoRecipients = errors.New("no chosen recipient can see the share scope")

// PrepareSelf normalises a self presence update against the current roster.
// Going BUSY clears time and message; recipients are upper-cased and pruned
// to contacts that can see presence shared at the chosen scope.
func PrepareSelf(in models.SelfPresence, roster *Roster) (models.SelfPresence, error) {
	out := models.SelfPresence{ShareScope: in.ShareScope}
	recipients, emptied := pruneRecipients(in.VisibleTo, in.ShareScope, roster)

	if in.Status != models.StatusFree {
		out.Status = models.StatusBusy
		out.VisibleTo = recipients
		if emptied {
			// keep the chosen list so the gate stays closed
			out.VisibleTo = models.NormalizeRecipients(in.VisibleTo)
		}
		return out, nil
	}
	if emptied {
		return models.SelfPresence{}, ErrNoRecipients
	}

	out.Status = models.StatusFree
	out.AvailableFrom = models.NormalizeTime(in.AvailableFrom)
	if out.AvailableFrom == "" {
		out.AvailableFrom = DefaultAvailableFrom
	}
	out.Message = strings.TrimSpace(in.Message)
	out.VisibleTo = recipients
	return out, nil
}

// pruneRecipients keeps the ids reachable under scope. emptied reports that
// a non-empty choice lost every id.
func pruneRecipients(ids []string, scope *models.Scope, roster *Roster) (out []string, emptied bool) {
	ids = models.NormalizeRecipients(ids)
	if roster == nil || len(ids) == 0 {
		return ids, false
	}
	out = make([]string, 0, len(ids))
	for _, id := range ids {
		c, ok := roster.Get(id)
		if !ok || !Reachable(scope, c.RelationScope) {
			continue
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, true
	}
	return out, false
}

// Publisher writes the viewer's own presence. Self updates never go through
// the merger.
type Publisher struct {
	viewerID string
	writer   PresenceWriter
	rec      *Reconciler
	now      func() time.Time
}

// NewPublisher creates a publisher for the reconciler's viewer
func NewPublisher(rec *Reconciler, writer PresenceWriter, now func() time.Time) *Publisher {
	if now == nil {
		now = time.Now
	}
	return &Publisher{viewerID: rec.ViewerID(), writer: writer, rec: rec, now: now}
}

// Publish prepares and stores in, returning what was written
func (p *Publisher) Publish(ctx context.Context, in models.SelfPresence) (models.SelfPresence, error) {
	out, err := PrepareSelf(in, p.rec.Roster())
	if err != nil {
		return models.SelfPresence{}, err
	}
	if err := p.writer.UpsertPresence(ctx, p.viewerID, out, p.now().UTC()); err != nil {
		return models.SelfPresence{}, fmt.Errorf("publish self presence: %w", err)
	}
	return out, nil
}

// FormDefaults fills the self-presence form. Each field comes from the
// stored users row, then the saved defaults, then the built-in fallback
// (19:00, COMMUNITY, every contact).
func FormDefaults(row *models.PresenceRow, defaults *models.PresenceDefaults, roster *Roster) models.SelfPresence {
	out := models.SelfPresence{Status: models.StatusBusy}
	if defaults != nil && defaults.DefaultStatus == models.StatusFree {
		out.Status = models.StatusFree
	}

	if row != nil {
		if row.Status != nil {
			out.Status = models.ParseStatus(row.Status)
		}
		if row.AvailableFrom != nil {
			out.AvailableFrom = models.NormalizeTime(*row.AvailableFrom)
		}
		out.ShareScope = models.ParseScopePtr(row.ShareScope)
		out.VisibleTo = models.NormalizeRecipients(row.VisibleTo)
		if row.Message != nil {
			out.Message = *row.Message
		}
	}

	if defaults != nil {
		if out.AvailableFrom == "" {
			out.AvailableFrom = models.NormalizeTime(defaults.DefaultAvailableFrom)
		}
		if out.ShareScope == nil && defaults.DefaultShareScope != nil && defaults.DefaultShareScope.Valid() {
			s := *defaults.DefaultShareScope
			out.ShareScope = &s
		}
		if len(out.VisibleTo) == 0 {
			out.VisibleTo = models.NormalizeRecipients(defaults.SharedWith)
		}
	}

	if out.AvailableFrom == "" {
		out.AvailableFrom = DefaultAvailableFrom
	}
	if out.ShareScope == nil {
		s := models.ScopeCommunity
		out.ShareScope = &s
	}
	if len(out.VisibleTo) == 0 && roster != nil {
		out.VisibleTo = roster.IDs()
	}
	return out
}
