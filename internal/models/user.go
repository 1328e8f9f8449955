package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrMissingAccountID is returned for rows without an account_id
var ErrMissingAccountID = errors.New("row has no account_id")

// Account represents the viewer's own identity in the users table
type Account struct {
	AccountID   string    `json:"accountId" db:"account_id"`
	AuthSubject string    `json:"-" db:"auth_subject"`
	Name        string    `json:"name" db:"name"`
	AvatarURL   *string   `json:"avatarUrl,omitempty" db:"avatar_url"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// PresenceRow is one users row as delivered by a poll or a change event.
// Only account_id is required.
type PresenceRow struct {
	AccountID     string     `json:"account_id" db:"account_id"`
	Name          *string    `json:"name,omitempty" db:"name"`
	AvatarURL     *string    `json:"avatar_url,omitempty" db:"avatar_url"`
	Status        *string    `json:"status,omitempty" db:"status"`
	AvailableFrom *string    `json:"available_from,omitempty" db:"available_from"`
	ShareScope    *string    `json:"share_scope,omitempty" db:"share_scope"`
	VisibleTo     []string   `json:"visible_to,omitempty" db:"visible_to"`
	Message       *string    `json:"message,omitempty" db:"message"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Normalize validates the row and returns a copy with the account id and
// recipient list upper-cased.
func (r PresenceRow) Normalize() (PresenceRow, error) {
	r.AccountID = NormalizeAccountID(r.AccountID)
	if r.AccountID == "" {
		return PresenceRow{}, ErrMissingAccountID
	}
	r.VisibleTo = NormalizeRecipients(r.VisibleTo)
	if r.UpdatedAt != nil && r.UpdatedAt.IsZero() {
		r.UpdatedAt = nil
	}
	return r, nil
}

// Timestamp returns the origin timestamp or the zero time when absent
func (r PresenceRow) Timestamp() time.Time {
	if r.UpdatedAt == nil {
		return time.Time{}
	}
	return *r.UpdatedAt
}

// NormalizeRecipients upper-cases, trims and de-duplicates ids, keeping order
func NormalizeRecipients(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = NormalizeAccountID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var clockPattern = regexp.MustCompile(`^([0-9]{1,2}):([0-9]{2})(:[0-9]{2}(\.[0-9]+)?)?$`)

// NormalizeTime turns "HH:MM" or "HH:MM:SS" into "HH:MM". Anything else
// yields "".
func NormalizeTime(raw string) string {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ""
	}
	hh := m[1]
	if len(hh) == 1 {
		hh = "0" + hh
	}
	if hh > "23" || m[2] > "59" {
		return ""
	}
	return hh + ":" + m[2]
}
