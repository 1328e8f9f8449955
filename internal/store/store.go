// Package store is the PostgreSQL side of the presence server: accounts and
// presence rows, friend requests, presence defaults and the change feed.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// DB is the subset of *pgxpool.Pool the store needs
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes the shared presence tables
type Store struct {
	db DB
}

// New creates a store on db
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables and the change-feed trigger if missing
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return errors.Wrap(err, "migrate")
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Schema is applied at startup. presence_notify publishes every users change
// on the presence_changes channel as {event, table, new}.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	account_id     TEXT PRIMARY KEY,
	auth_subject   TEXT UNIQUE NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	avatar_url     TEXT,
	status         TEXT,
	available_from TEXT,
	share_scope    TEXT,
	visible_to     TEXT[],
	message        TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS friend_requests (
	id           UUID PRIMARY KEY,
	requester_id TEXT NOT NULL REFERENCES users(account_id) ON DELETE CASCADE,
	receiver_id  TEXT NOT NULL REFERENCES users(account_id) ON DELETE CASCADE,
	status       TEXT NOT NULL DEFAULT 'pending',
	relationship TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS friend_requests_requester_idx ON friend_requests (requester_id, status);
CREATE INDEX IF NOT EXISTS friend_requests_receiver_idx ON friend_requests (receiver_id, status);

CREATE TABLE IF NOT EXISTS nighton_settings (
	account_id             TEXT PRIMARY KEY REFERENCES users(account_id) ON DELETE CASCADE,
	default_status         TEXT NOT NULL DEFAULT 'BUSY',
	default_available_from TEXT,
	default_share_scope    TEXT,
	shared_with            TEXT[],
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE OR REPLACE FUNCTION presence_notify() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('presence_changes', json_build_object(
		'event', TG_OP,
		'table', TG_TABLE_NAME,
		'new', json_build_object(
			'account_id', NEW.account_id,
			'name', NEW.name,
			'avatar_url', NEW.avatar_url,
			'status', NEW.status,
			'available_from', NEW.available_from,
			'share_scope', NEW.share_scope,
			'visible_to', NEW.visible_to,
			'updated_at', NEW.updated_at
		)
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS users_presence_notify ON users;
CREATE TRIGGER users_presence_notify
	AFTER INSERT OR UPDATE ON users
	FOR EACH ROW EXECUTE FUNCTION presence_notify();
`
