package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"nighton/server/internal/models"
)

// ChangeFeed delivers row-change events for the shared store. Handlers may
// receive events for any account; filtering is the subscriber's job.
type ChangeFeed interface {
	Subscribe(handler func(models.ChangeEvent)) (unsubscribe func(), err error)
}

// Listener routes change events for the viewer's contacts into the
// reconciler. It subscribes at most once no matter how often Start is called.
type Listener struct {
	rec  *Reconciler
	feed ChangeFeed
	log  *zap.Logger

	mu          sync.Mutex
	subscribed  bool
	unsubscribe func()
}

// NewListener creates a listener feeding rec from feed
func NewListener(rec *Reconciler, feed ChangeFeed, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{rec: rec, feed: feed, log: log}
}

// Start subscribes to the feed. Calls after a successful subscription are
// no-ops; a failed subscription may be retried.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subscribed {
		return nil
	}

	unsubscribe, err := l.feed.Subscribe(func(ev models.ChangeEvent) {
		l.Handle(ctx, ev)
	})
	if err != nil {
		l.log.Warn("subscribe to change feed failed", zap.String("viewer", l.rec.ViewerID()), zap.Error(err))
		return err
	}
	l.subscribed = true
	l.unsubscribe = unsubscribe
	l.log.Debug("subscribed to change feed", zap.String("viewer", l.rec.ViewerID()))
	return nil
}

// Subscribed reports whether the listener holds a live subscription
func (l *Listener) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribed
}

// Stop ends the subscription at session teardown
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	l.unsubscribe = nil
	l.subscribed = false
}

// Handle filters one event and submits it when it concerns a contact.
// It reports whether the event was forwarded.
func (l *Listener) Handle(ctx context.Context, ev models.ChangeEvent) bool {
	if !ev.IsPresenceUpsert() {
		return false
	}
	row, err := ev.New.Normalize()
	if err != nil {
		l.log.Debug("dropping malformed change event", zap.Error(err))
		return false
	}
	if row.AccountID == l.rec.ViewerID() || !l.rec.Roster().Has(row.AccountID) {
		return false
	}
	if err := l.rec.Submit(ctx, SourcePush, row); err != nil {
		l.log.Debug("submit push row failed", zap.String("account", row.AccountID), zap.Error(err))
		return false
	}
	return true
}
