package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"nighton/server/internal/models"
)

const presenceColumns = `account_id, name, avatar_url, status, available_from, share_scope, visible_to, updated_at`

// FetchPresence returns the presence rows of the given accounts in one query
func (s *Store) FetchPresence(ctx context.Context, accountIDs []string) ([]models.PresenceRow, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+presenceColumns+` FROM users WHERE account_id = ANY($1)`, accountIDs)
	if err != nil {
		return nil, errors.Wrap(err, "fetch presence")
	}
	defer rows.Close()

	var out []models.PresenceRow
	for rows.Next() {
		var r models.PresenceRow
		if err := rows.Scan(&r.AccountID, &r.Name, &r.AvatarURL, &r.Status, &r.AvailableFrom,
			&r.ShareScope, &r.VisibleTo, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan presence row")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate presence rows")
}

// GetPresence returns the stored presence row of one account, message
// included
func (s *Store) GetPresence(ctx context.Context, accountID string) (models.PresenceRow, error) {
	var r models.PresenceRow
	err := s.db.QueryRow(ctx, `SELECT `+presenceColumns+`, message FROM users WHERE account_id = $1`,
		models.NormalizeAccountID(accountID)).
		Scan(&r.AccountID, &r.Name, &r.AvatarURL, &r.Status, &r.AvailableFrom,
			&r.ShareScope, &r.VisibleTo, &r.UpdatedAt, &r.Message)
	if err != nil {
		return models.PresenceRow{}, errors.Wrap(notFound(err), "get presence")
	}
	return r, nil
}

// UpsertPresence writes the account's own presence
func (s *Store) UpsertPresence(ctx context.Context, accountID string, p models.SelfPresence, at time.Time) error {
	var scope *string
	if p.ShareScope != nil {
		v := string(*p.ShareScope)
		scope = &v
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET status = $2, available_from = NULLIF($3, ''), message = NULLIF($4, ''),
		    share_scope = $5, visible_to = $6, updated_at = $7
		WHERE account_id = $1
	`, models.NormalizeAccountID(accountID), string(p.Status), p.AvailableFrom, p.Message, scope, p.VisibleTo, at)
	if err != nil {
		return errors.Wrap(err, "upsert presence")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAccount returns an account by id
func (s *Store) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var a models.Account
	err := s.db.QueryRow(ctx, `
		SELECT account_id, auth_subject, name, avatar_url, created_at FROM users WHERE account_id = $1
	`, models.NormalizeAccountID(accountID)).Scan(&a.AccountID, &a.AuthSubject, &a.Name, &a.AvatarURL, &a.CreatedAt)
	if err != nil {
		return models.Account{}, errors.Wrap(notFound(err), "get account")
	}
	return a, nil
}

// GetAccountBySubject returns the account bound to an identity provider subject
func (s *Store) GetAccountBySubject(ctx context.Context, subject string) (models.Account, error) {
	var a models.Account
	err := s.db.QueryRow(ctx, `
		SELECT account_id, auth_subject, name, avatar_url, created_at FROM users WHERE auth_subject = $1
	`, subject).Scan(&a.AccountID, &a.AuthSubject, &a.Name, &a.AvatarURL, &a.CreatedAt)
	if err != nil {
		return models.Account{}, errors.Wrap(notFound(err), "get account by subject")
	}
	return a, nil
}

// CreateAccount inserts a new account. Presence starts BUSY with no
// timestamp so contacts see nothing until the first publish.
func (s *Store) CreateAccount(ctx context.Context, a models.Account) (models.Account, error) {
	a.AccountID = models.NormalizeAccountID(a.AccountID)
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (account_id, auth_subject, name, avatar_url, status)
		VALUES ($1, $2, $3, $4, 'BUSY')
		RETURNING created_at
	`, a.AccountID, a.AuthSubject, a.Name, a.AvatarURL).Scan(&a.CreatedAt)
	if err != nil {
		return models.Account{}, errors.Wrap(err, "create account")
	}
	return a, nil
}

// AccountExists reports whether accountID is a known account
func (s *Store) AccountExists(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE account_id = $1)`,
		models.NormalizeAccountID(accountID)).Scan(&exists)
	return exists, errors.Wrap(err, "account exists")
}
