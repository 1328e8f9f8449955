package store

import (
	"context"

	"github.com/pkg/errors"

	"nighton/server/internal/models"
)

// GetDefaults returns the account's nighton_settings row
func (s *Store) GetDefaults(ctx context.Context, accountID string) (models.PresenceDefaults, error) {
	var (
		d      models.PresenceDefaults
		status string
		from   *string
		scope  *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT account_id, default_status, default_available_from, default_share_scope, shared_with, updated_at
		FROM nighton_settings WHERE account_id = $1
	`, models.NormalizeAccountID(accountID)).Scan(&d.AccountID, &status, &from, &scope, &d.SharedWith, &d.UpdatedAt)
	if err != nil {
		return models.PresenceDefaults{}, errors.Wrap(notFound(err), "get defaults")
	}

	d.DefaultStatus = models.ParseStatus(&status)
	if from != nil {
		d.DefaultAvailableFrom = models.NormalizeTime(*from)
	}
	d.DefaultShareScope = models.ParseScopePtr(scope)
	return d, nil
}

// UpsertDefaults stores the account's presence defaults
func (s *Store) UpsertDefaults(ctx context.Context, d models.PresenceDefaults) (models.PresenceDefaults, error) {
	d.AccountID = models.NormalizeAccountID(d.AccountID)
	d.SharedWith = models.NormalizeRecipients(d.SharedWith)

	var scope *string
	if d.DefaultShareScope != nil {
		v := string(*d.DefaultShareScope)
		scope = &v
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO nighton_settings (account_id, default_status, default_available_from, default_share_scope, shared_with, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			default_status = EXCLUDED.default_status,
			default_available_from = EXCLUDED.default_available_from,
			default_share_scope = EXCLUDED.default_share_scope,
			shared_with = EXCLUDED.shared_with,
			updated_at = NOW()
		RETURNING updated_at
	`, d.AccountID, string(d.DefaultStatus), d.DefaultAvailableFrom, scope, d.SharedWith).Scan(&d.UpdatedAt)
	if err != nil {
		return models.PresenceDefaults{}, errors.Wrap(err, "upsert defaults")
	}
	return d, nil
}
