package presence

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"nighton/server/internal/models"
)

var (
	// ErrUnknownContact is returned for local mutations of ids not in the roster
	ErrUnknownContact = errors.New("unknown contact")
	// ErrStopped is returned when the reconciler is no longer running
	ErrStopped = errors.New("reconciler stopped")
)

// Source tags where a batch of rows came from
type Source string

const (
	SourcePoll  Source = "poll"
	SourcePush  Source = "push"
	SourceLocal Source = "local"
)

// Directory caches contact names and avatars across sessions
type Directory interface {
	LookupProfile(ctx context.Context, accountID string) (name, avatarURL string, ok bool, err error)
	StoreProfile(ctx context.Context, accountID, name, avatarURL string) error
}

// BatchResult reports what happened to one submitted batch
type BatchResult struct {
	Outcomes  map[string]Outcome
	Published bool
	Version   uint64
}

type op struct {
	source Source
	rows   []models.PresenceRow
	mutate func(ctx context.Context, current *Roster) (map[string]models.Contact, error)
	done   chan opResult
}

type opResult struct {
	batch BatchResult
	err   error
}

// Reconciler is the single writer of a viewer's roster. Poll and push
// producers enqueue rows; Run merges them one batch at a time and publishes
// a new roster only when some contact changed.
type Reconciler struct {
	viewerID  string
	merger    *Merger
	relations RelationStore
	directory Directory
	log       *zap.Logger

	roster  rosterHolder
	ops     chan op
	stopped chan struct{}
	once    sync.Once

	mu      sync.Mutex
	subs    map[int]chan *Roster
	nextSub int
	hooks   []func(*Roster)
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithDirectory sets the name/avatar cache
func WithDirectory(d Directory) ReconcilerOption {
	return func(r *Reconciler) { r.directory = d }
}

// WithRelations sets the relation cache used when seeding contacts and on
// local relation changes
func WithRelations(rs RelationStore) ReconcilerOption {
	return func(r *Reconciler) { r.relations = rs }
}

// WithReconcilerLogger sets the logger
func WithReconcilerLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = l }
}

// WithPublishHook registers fn to be called synchronously on every publish
func WithPublishHook(fn func(*Roster)) ReconcilerOption {
	return func(r *Reconciler) { r.hooks = append(r.hooks, fn) }
}

// NewReconciler creates a reconciler for viewerID
func NewReconciler(viewerID string, merger *Merger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		viewerID: models.NormalizeAccountID(viewerID),
		merger:   merger,
		log:      zap.NewNop(),
		ops:      make(chan op, 64),
		stopped:  make(chan struct{}),
		subs:     make(map[int]chan *Roster),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.roster.store(NewRoster(nil))
	return r
}

// ViewerID returns the normalised id of the viewing account
func (r *Reconciler) ViewerID() string { return r.viewerID }

// Roster returns the latest published roster
func (r *Reconciler) Roster() *Roster { return r.roster.load() }

// Run processes queued batches until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.stopped) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-r.ops:
			res := r.process(ctx, o)
			if o.done != nil {
				o.done <- res
			}
		}
	}
}

// Submit enqueues rows without waiting for them to be merged
func (r *Reconciler) Submit(ctx context.Context, source Source, rows ...models.PresenceRow) error {
	if len(rows) == 0 {
		return nil
	}
	return r.enqueue(ctx, op{source: source, rows: rows})
}

// Apply enqueues rows and waits for the merge result
func (r *Reconciler) Apply(ctx context.Context, source Source, rows ...models.PresenceRow) (BatchResult, error) {
	res, err := r.call(ctx, op{source: source, rows: rows})
	if err != nil {
		return BatchResult{}, err
	}
	return res.batch, res.err
}

// EnsureContacts adds placeholder contacts for connections not yet in the
// roster. Existing contacts are left untouched.
func (r *Reconciler) EnsureContacts(ctx context.Context, conns []models.Connection) (BatchResult, error) {
	res, err := r.call(ctx, op{
		source: SourceLocal,
		mutate: func(ctx context.Context, current *Roster) (map[string]models.Contact, error) {
			added := make(map[string]models.Contact)
			for _, conn := range conns {
				id := models.NormalizeAccountID(conn.AccountID)
				if id == "" || id == r.viewerID || current.Has(id) {
					continue
				}
				if _, dup := added[id]; dup {
					continue
				}
				added[id] = r.seedContact(ctx, id, conn.Relation)
			}
			return added, nil
		},
	})
	if err != nil {
		return BatchResult{}, err
	}
	return res.batch, res.err
}

// SetRelation changes the viewer's relation scope toward a contact
func (r *Reconciler) SetRelation(ctx context.Context, accountID string, scope models.Scope) (models.Contact, error) {
	id := models.NormalizeAccountID(accountID)
	res, err := r.call(ctx, op{
		source: SourceLocal,
		mutate: func(ctx context.Context, current *Roster) (map[string]models.Contact, error) {
			c, ok := current.Get(id)
			if !ok {
				return nil, ErrUnknownContact
			}
			if r.relations != nil {
				cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
				err := r.relations.SetRelation(cctx, r.viewerID, id, scope)
				cancel()
				if err != nil {
					r.log.Warn("persist relation failed", zap.String("account", id), zap.Error(err))
				}
			}
			if c.RelationScope == scope {
				return nil, nil
			}
			c.RelationScope = scope
			return map[string]models.Contact{id: c}, nil
		},
	})
	if err != nil {
		return models.Contact{}, err
	}
	if res.err != nil {
		return models.Contact{}, res.err
	}
	c, _ := r.Roster().Get(id)
	return c, nil
}

// Subscribe returns a channel receiving every published roster. Slow
// readers only ever see the latest one. Call the returned func to stop.
func (r *Reconciler) Subscribe() (<-chan *Roster, func()) {
	ch := make(chan *Roster, 1)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) enqueue(ctx context.Context, o op) error {
	select {
	case r.ops <- o:
		return nil
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) call(ctx context.Context, o op) (opResult, error) {
	o.done = make(chan opResult, 1)
	if err := r.enqueue(ctx, o); err != nil {
		return opResult{}, err
	}
	select {
	case res := <-o.done:
		return res, nil
	case <-r.stopped:
		return opResult{}, ErrStopped
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}
}

func (r *Reconciler) process(ctx context.Context, o op) opResult {
	current := r.roster.load()

	if o.mutate != nil {
		changed, err := o.mutate(ctx, current)
		if err != nil {
			return opResult{err: err, batch: BatchResult{Version: current.Version()}}
		}
		return opResult{batch: r.publish(current, changed, nil)}
	}

	changed := make(map[string]models.Contact)
	outcomes := make(map[string]Outcome, len(o.rows))
	for _, row := range o.rows {
		id := models.NormalizeAccountID(row.AccountID)
		base, ok := changed[id]
		if !ok {
			base, ok = current.Get(id)
		}
		if !ok {
			outcomes[id] = OutcomeSkipped
			continue
		}

		next, outcome := r.merger.Merge(ctx, base, row)
		outcomes[id] = outcome
		if !outcome.Changed() || next == base {
			continue
		}
		changed[id] = next
		if next.Name != base.Name || next.AvatarURL != base.AvatarURL {
			r.rememberProfile(ctx, next)
		}
		r.log.Debug("contact updated",
			zap.String("viewer", r.viewerID),
			zap.String("account", id),
			zap.String("source", string(o.source)),
			zap.String("outcome", outcome.String()),
			zap.String("status", string(next.Status)),
		)
	}
	return opResult{batch: r.publish(current, changed, outcomes)}
}

func (r *Reconciler) publish(current *Roster, changed map[string]models.Contact, outcomes map[string]Outcome) BatchResult {
	if len(changed) == 0 {
		return BatchResult{Outcomes: outcomes, Version: current.Version()}
	}

	next := current.with(changed)
	r.roster.store(next)

	for _, fn := range r.hooks {
		fn(next)
	}

	r.mu.Lock()
	for _, ch := range r.subs {
		select {
		case ch <- next:
		default:
			// replace the unread roster with the newer one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
	r.mu.Unlock()

	return BatchResult{Outcomes: outcomes, Published: true, Version: next.Version()}
}

func (r *Reconciler) seedContact(ctx context.Context, id string, hint *models.Scope) models.Contact {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	relation := models.ScopePublic
	persisted := false
	if r.relations != nil {
		if s, ok, err := r.relations.GetRelation(ctx, r.viewerID, id); err == nil && ok && s.Valid() {
			relation, persisted = s, true
		}
	}
	if !persisted && hint != nil && hint.Valid() {
		relation = *hint
	}

	c := models.NewContact(id, relation)
	if r.directory != nil {
		if name, avatar, ok, err := r.directory.LookupProfile(ctx, id); err == nil && ok {
			if name != "" {
				c.Name = name
			}
			c.AvatarURL = avatar
		}
	}
	return c
}

func (r *Reconciler) rememberProfile(ctx context.Context, c models.Contact) {
	if r.directory == nil || c.HasPlaceholderName() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := r.directory.StoreProfile(ctx, c.AccountID, c.Name, c.AvatarURL); err != nil {
		r.log.Debug("directory cache write failed", zap.String("account", c.AccountID), zap.Error(err))
	}
}
