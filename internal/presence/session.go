package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nighton/server/internal/models"
)

// Deps are the collaborators shared by all sessions
type Deps struct {
	Rows        RowFetcher
	Connections ConnectionSource
	Feed        ChangeFeed
	Writer      PresenceWriter
	Relations   RelationStore
	Directory   Directory

	PollInterval  time.Duration
	PollDebounce  time.Duration
	MergeDebounce time.Duration

	Logger *zap.Logger
}

// Session is one viewer's running reconciliation engine: a reconciler fed by
// a poller and a push listener
type Session struct {
	ViewerID   string
	Reconciler *Reconciler
	Poller     *Poller
	Listener   *Listener
	Publisher  *Publisher

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// StartSession wires and starts the engine for viewerID. It runs until
// Close is called or parent is cancelled.
func StartSession(parent context.Context, viewerID string, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	viewerID = models.NormalizeAccountID(viewerID)
	log = log.With(zap.String("viewer", viewerID))

	mergeDebounce := deps.MergeDebounce
	if mergeDebounce <= 0 {
		mergeDebounce = DefaultMergeDebounce
	}

	coalescer := NewCoalescer(viewerID, nil)
	merger := NewMerger(viewerID, coalescer,
		WithRelationStore(deps.Relations),
		WithMergeDebounce(mergeDebounce),
		WithLogger(log),
	)
	rec := NewReconciler(viewerID, merger,
		WithRelations(deps.Relations),
		WithDirectory(deps.Directory),
		WithReconcilerLogger(log),
	)

	s := &Session{
		ViewerID:   viewerID,
		Reconciler: rec,
		Poller: NewPoller(rec, PollerConfig{
			Rows:        deps.Rows,
			Connections: deps.Connections,
			Interval:    deps.PollInterval,
			Debounce:    deps.PollDebounce,
			Logger:      log,
		}),
		done: make(chan struct{}),
	}
	if deps.Feed != nil {
		s.Listener = NewListener(rec, deps.Feed, log)
	}
	if deps.Writer != nil {
		s.Publisher = NewPublisher(rec, deps.Writer, nil)
	}

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	s.ctx = gctx
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return s.Poller.Run(gctx) })
	if s.Listener != nil {
		if err := s.Listener.Start(gctx); err != nil {
			// the poller still converges; the next Wake retries the feed
			log.Warn("push listener unavailable, relying on polling", zap.Error(err))
		}
	}

	go func() {
		defer close(s.done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("session stopped", zap.Error(err))
		}
		if s.Listener != nil {
			s.Listener.Stop()
		}
		log.Debug("session closed")
	}()

	return s
}

// Wake triggers an immediate poll and retries the push subscription if it
// failed earlier
func (s *Session) Wake() {
	if s.Listener != nil && !s.Listener.Subscribed() && s.ctx.Err() == nil {
		_ = s.Listener.Start(s.ctx)
	}
	s.Poller.Wake()
}

// Close stops the session and waits for its goroutines
func (s *Session) Close() {
	s.cancel()
	<-s.done
}
