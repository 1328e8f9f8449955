package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nighton/server/internal/models"
)

// DefaultFeedSubject carries change events when the feed runs over NATS
const DefaultFeedSubject = "presence.changes"

// NATSFeed delivers and announces change events on a NATS subject. Each
// server instance announces its own writes; every instance receives all.
type NATSFeed struct {
	*broadcaster
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
	log     *zap.Logger
}

// NewNATSFeed connects to url and subscribes to subject
func NewNATSFeed(url, subject string, log *zap.Logger) (*NATSFeed, error) {
	if subject == "" {
		subject = DefaultFeedSubject
	}
	if log == nil {
		log = zap.NewNop()
	}

	nc, err := nats.Connect(url,
		nats.Name("nighton-presence"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return newNATSFeedWithConn(nc, subject, log)
}

func newNATSFeedWithConn(nc *nats.Conn, subject string, log *zap.Logger) (*NATSFeed, error) {
	f := &NATSFeed{broadcaster: newBroadcaster(log), nc: nc, subject: subject, log: log}
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		f.deliver(m.Data)
	})
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "subscribe "+subject)
	}
	f.sub = sub
	return f, nil
}

// Announce publishes ev to every instance, this one included
func (f *NATSFeed) Announce(ev models.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode change event")
	}
	return errors.Wrap(f.nc.Publish(f.subject, payload), "publish change event")
}

// Close drains the subscription and closes the connection
func (f *NATSFeed) Close() {
	f.close()
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
	}
	f.nc.Close()
}

// Announcer publishes a change event for a users row
type Announcer interface {
	Announce(ev models.ChangeEvent) error
}

// AnnouncingWriter stores self presence and then announces the stored row,
// for deployments without a database trigger feed
type AnnouncingWriter struct {
	Store     *Store
	Announcer Announcer
	Log       *zap.Logger
}

// UpsertPresence implements presence.PresenceWriter
func (w AnnouncingWriter) UpsertPresence(ctx context.Context, accountID string, p models.SelfPresence, at time.Time) error {
	if err := w.Store.UpsertPresence(ctx, accountID, p, at); err != nil {
		return err
	}

	row, err := w.Store.GetPresence(ctx, accountID)
	if err != nil {
		w.logWarn("reload presence for announce failed", accountID, err)
		return nil
	}
	row.Message = nil
	if err := w.Announcer.Announce(models.ChangeEvent{Event: models.EventUpdate, Table: models.UsersTable, New: row}); err != nil {
		w.logWarn("announce presence failed", accountID, err)
	}
	return nil
}

func (w AnnouncingWriter) logWarn(msg, accountID string, err error) {
	if w.Log != nil {
		w.Log.Warn(msg, zap.String("account", accountID), zap.Error(err))
	}
}
