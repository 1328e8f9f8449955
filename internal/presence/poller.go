package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nighton/server/internal/models"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollDebounce = 300 * time.Millisecond
)

// RowFetcher reads the current presence rows for a set of accounts in one
// request
type RowFetcher interface {
	FetchPresence(ctx context.Context, accountIDs []string) ([]models.PresenceRow, error)
}

// ConnectionSource lists the viewer's accepted connections
type ConnectionSource interface {
	AcceptedConnections(ctx context.Context, viewerID string) ([]models.Connection, error)
}

// Poller periodically fetches rows for every known contact and feeds them to
// the reconciler
type Poller struct {
	rec      *Reconciler
	rows     RowFetcher
	conns    ConnectionSource
	interval time.Duration
	debounce time.Duration
	log      *zap.Logger

	wake chan struct{}

	mu      sync.Mutex
	lastIDs []string
}

// PollerConfig holds the poller's collaborators and timing
type PollerConfig struct {
	Rows        RowFetcher
	Connections ConnectionSource
	Interval    time.Duration
	Debounce    time.Duration // zero means DefaultPollDebounce, negative disables
	Logger      *zap.Logger
}

// NewPoller creates a poller feeding rec
func NewPoller(rec *Reconciler, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	switch {
	case cfg.Debounce == 0:
		cfg.Debounce = DefaultPollDebounce
	case cfg.Debounce < 0:
		cfg.Debounce = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Poller{
		rec:      rec,
		rows:     cfg.Rows,
		conns:    cfg.Connections,
		interval: cfg.Interval,
		debounce: cfg.Debounce,
		log:      cfg.Logger,
		wake:     make(chan struct{}, 1),
	}
}

// Run polls immediately and then on every interval until ctx is done. The
// timer is stopped on return.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		case <-p.wake:
			p.tick(ctx)
			ticker.Reset(p.interval)
		}
	}
}

// Wake requests an out-of-cycle poll, e.g. when the client comes back to
// the foreground. Extra requests while one is pending are dropped.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) tick(ctx context.Context) {
	if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("poll failed", zap.String("viewer", p.rec.ViewerID()), zap.Error(err))
	}
}

// PollOnce runs one poll cycle
func (p *Poller) PollOnce(ctx context.Context) (BatchResult, error) {
	if p.conns != nil {
		conns, err := p.conns.AcceptedConnections(ctx, p.rec.ViewerID())
		if err != nil {
			p.log.Warn("list connections failed", zap.String("viewer", p.rec.ViewerID()), zap.Error(err))
		} else if len(conns) > 0 {
			if _, err := p.rec.EnsureContacts(ctx, conns); err != nil {
				return BatchResult{}, err
			}
		}
	}

	ids := p.contactIDs()
	if len(ids) == 0 {
		return BatchResult{}, nil
	}

	rows, err := p.rows.FetchPresence(ctx, ids)
	if err != nil {
		return BatchResult{}, err
	}
	if len(rows) == 0 {
		return BatchResult{}, nil
	}

	// give a concurrent push event for the same change the chance to land first
	if p.debounce > 0 {
		t := time.NewTimer(p.debounce)
		select {
		case <-ctx.Done():
			t.Stop()
			return BatchResult{}, ctx.Err()
		case <-t.C:
		}
	}

	return p.rec.Apply(ctx, SourcePoll, rows...)
}

// contactIDs falls back to the last non-empty id set when the roster is
// momentarily empty
func (p *Poller) contactIDs() []string {
	ids := p.rec.Roster().IDs()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(ids) == 0 {
		return append([]string(nil), p.lastIDs...)
	}
	p.lastIDs = ids
	return ids
}
