package presence

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"nighton/server/internal/models"
)

// DefaultMergeDebounce treats updates closer than this as the same instant
const DefaultMergeDebounce = 1500 * time.Millisecond

// cacheTimeout bounds each relation or directory cache call made while
// holding the reconciler queue
const cacheTimeout = 250 * time.Millisecond

// RelationStore persists the viewer-local relation scope of each contact.
// Implementations are best effort.
type RelationStore interface {
	GetRelation(ctx context.Context, viewerID, accountID string) (models.Scope, bool, error)
	SetRelation(ctx context.Context, viewerID, accountID string, scope models.Scope) error
}

// Outcome describes what a merge did to a contact
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeStale
	OutcomeUnchanged
	OutcomeApplied
	OutcomeOverridden
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeStale:
		return "stale"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeApplied:
		return "applied"
	case OutcomeOverridden:
		return "overridden"
	default:
		return "unknown"
	}
}

// Changed reports whether the merge produced a new contact record
func (o Outcome) Changed() bool {
	return o == OutcomeApplied || o == OutcomeOverridden
}

// Merger turns an incoming users row into the viewer's next contact record
type Merger struct {
	viewerID  string
	coalescer *Coalescer
	relations RelationStore
	debounce  time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// MergerOption configures a Merger
type MergerOption func(*Merger)

// WithRelationStore sets the persisted relation cache reconciled on merge
func WithRelationStore(rs RelationStore) MergerOption {
	return func(m *Merger) { m.relations = rs }
}

// WithMergeDebounce overrides DefaultMergeDebounce
func WithMergeDebounce(d time.Duration) MergerOption {
	return func(m *Merger) { m.debounce = d }
}

// WithClock sets the time source
func WithClock(now func() time.Time) MergerOption {
	return func(m *Merger) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) MergerOption {
	return func(m *Merger) { m.log = l }
}

// NewMerger creates a merger for viewerID backed by coalescer
func NewMerger(viewerID string, coalescer *Coalescer, opts ...MergerOption) *Merger {
	m := &Merger{
		viewerID:  models.NormalizeAccountID(viewerID),
		coalescer: coalescer,
		debounce:  DefaultMergeDebounce,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge computes the next state of current from row. current is never
// modified; on any failure it is returned as is.
func (m *Merger) Merge(ctx context.Context, current models.Contact, row models.PresenceRow) (next models.Contact, outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("merge panicked",
				zap.String("account", current.AccountID),
				zap.Any("panic", r),
			)
			next, outcome = current, OutcomeSkipped
		}
	}()

	row, err := row.Normalize()
	if err != nil || row.AccountID == m.viewerID {
		return current, OutcomeSkipped
	}
	if row.AccountID != models.NormalizeAccountID(current.AccountID) {
		return current, OutcomeSkipped
	}

	ts := row.Timestamp()
	if !ts.IsZero() && !current.LastAppliedAt.IsZero() && ts.Before(current.LastAppliedAt) {
		return current, OutcomeStale
	}

	availableFrom := ""
	if row.AvailableFrom != nil {
		availableFrom = models.NormalizeTime(*row.AvailableFrom)
	}

	relation := m.resolveRelation(ctx, current)
	shareScope := models.ParseScopePtr(row.ShareScope)
	visible := IsVisible(m.viewerID, shareScope, row.VisibleTo, relation)

	nextStatus := models.StatusBusy
	if visible {
		nextStatus = models.ParseStatus(row.Status)
	}
	nextAvailableFrom := ""
	if nextStatus == models.StatusFree {
		nextAvailableFrom = availableFrom
	}

	snap := Snapshot{
		Status:        nextStatus,
		AvailableFrom: nextAvailableFrom,
		ShareScope:    shareScope,
		Recipients:    row.VisibleTo,
	}

	outcome = OutcomeApplied
	if decision := m.coalescer.Decide(row.AccountID, ts, snap); decision != Accept {
		samePair := nextStatus == current.Status && nextAvailableFrom == current.AvailableFrom
		if samePair || decision != RejectDuplicate {
			return current, OutcomeUnchanged
		}
		// Coalescer and rendered state have drifted, e.g. after a local
		// relation change. The rendered contact follows the resolved pair.
		m.log.Info("coalescer rejected update but rendered state differs, overriding",
			zap.String("viewer", m.viewerID),
			zap.String("account", row.AccountID),
			zap.String("rendered_status", string(current.Status)),
			zap.String("resolved_status", string(nextStatus)),
		)
		outcome = OutcomeOverridden
	}

	name := current.Name
	if current.HasPlaceholderName() && row.Name != nil && strings.TrimSpace(*row.Name) != "" {
		name = strings.TrimSpace(*row.Name)
	}
	avatar := current.AvatarURL
	if avatar == "" && row.AvatarURL != nil && strings.TrimSpace(*row.AvatarURL) != "" {
		avatar = strings.TrimSpace(*row.AvatarURL)
	}

	applied := ts
	if applied.IsZero() {
		applied = m.now()
	}

	if nextStatus == current.Status &&
		nextAvailableFrom == current.AvailableFrom &&
		name == current.Name &&
		avatar == current.AvatarURL &&
		absDuration(applied.Sub(current.LastAppliedAt)) < m.debounce {
		return current, OutcomeUnchanged
	}

	if applied.Before(current.LastAppliedAt) {
		applied = current.LastAppliedAt
	}

	next = current
	next.AccountID = row.AccountID
	next.Name = name
	next.AvatarURL = avatar
	next.Status = nextStatus
	next.AvailableFrom = nextAvailableFrom
	next.LastAppliedAt = applied
	next.LastFingerprint = snap.Fingerprint()
	return next, outcome
}

// resolveRelation returns the relation used for visibility. The in-memory
// relation wins and is written back when the persisted copy has drifted.
// An invalid relation is treated as PUBLIC but never persisted.
func (m *Merger) resolveRelation(ctx context.Context, current models.Contact) models.Scope {
	relation := current.RelationScope
	if !relation.Valid() {
		return models.ScopePublic
	}
	if m.relations == nil {
		return relation
	}

	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	persisted, ok, err := m.relations.GetRelation(ctx, m.viewerID, current.AccountID)
	if err != nil {
		m.log.Debug("relation cache read failed", zap.String("account", current.AccountID), zap.Error(err))
		return relation
	}
	if !ok || persisted != relation {
		if err := m.relations.SetRelation(ctx, m.viewerID, current.AccountID, relation); err != nil {
			m.log.Debug("relation cache write failed", zap.String("account", current.AccountID), zap.Error(err))
		}
	}
	return relation
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
