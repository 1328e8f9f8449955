package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultFeedChannel is the NOTIFY channel written by presence_notify
const DefaultFeedChannel = "presence_changes"

// PGFeed delivers users row changes received through LISTEN/NOTIFY
type PGFeed struct {
	*broadcaster
	pool    *pgxpool.Pool
	channel string
	log     *zap.Logger
}

// NewPGFeed creates a feed listening on channel
func NewPGFeed(pool *pgxpool.Pool, channel string, log *zap.Logger) *PGFeed {
	if channel == "" {
		channel = DefaultFeedChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PGFeed{broadcaster: newBroadcaster(log), pool: pool, channel: channel, log: log}
}

// Run holds a dedicated connection and listens until ctx is done,
// reconnecting after failures.
func (f *PGFeed) Run(ctx context.Context) error {
	defer f.close()

	backoff := time.Second
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("change feed connection lost, reconnecting",
			zap.String("channel", f.channel),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// notifyConn is the part of *pgx.Conn a LISTEN session uses
type notifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

func (f *PGFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire listen connection")
	}
	// a LISTENing connection must not go back to the pool
	return f.consume(ctx, conn.Hijack())
}

// consume owns conn until ctx is done or the connection fails, then closes it
func (f *PGFeed) consume(ctx context.Context, conn notifyConn) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return errors.Wrap(err, "listen")
	}
	f.log.Info("listening for presence changes", zap.String("channel", f.channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for notification")
		}
		f.deliver([]byte(n.Payload))
	}
}
