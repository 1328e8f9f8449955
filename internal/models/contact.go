package models

import "time"

// Contact is a remote user as the viewer currently sees them
type Contact struct {
	AccountID       string    `json:"accountId"`
	Name            string    `json:"name"`
	AvatarURL       string    `json:"avatarUrl,omitempty"`
	Status          Status    `json:"status"`
	AvailableFrom   string    `json:"availableFrom,omitempty"`
	RelationScope   Scope     `json:"relationScope"`
	LastAppliedAt   time.Time `json:"lastAppliedAt"`
	LastFingerprint string    `json:"-"`
}

// NewContact creates a placeholder contact for a freshly accepted connection
func NewContact(accountID string, relation Scope) Contact {
	id := NormalizeAccountID(accountID)
	if !relation.Valid() {
		relation = ScopePublic
	}
	return Contact{
		AccountID:     id,
		Name:          id,
		Status:        StatusUnset,
		RelationScope: relation,
	}
}

// HasPlaceholderName reports whether the name was never filled from a row
func (c Contact) HasPlaceholderName() bool {
	return c.Name == "" || c.Name == c.AccountID
}

// SelfPresence is the viewer's own published state
type SelfPresence struct {
	Status        Status   `json:"status"`
	AvailableFrom string   `json:"availableFrom,omitempty"`
	Message       string   `json:"message,omitempty"`
	ShareScope    *Scope   `json:"shareScope,omitempty"`
	VisibleTo     []string `json:"visibleTo,omitempty"`
}

// PresenceDefaults mirrors a nighton_settings row
type PresenceDefaults struct {
	AccountID            string     `json:"accountId" db:"account_id"`
	DefaultStatus        Status     `json:"defaultStatus" db:"default_status"`
	DefaultAvailableFrom string     `json:"defaultAvailableFrom,omitempty" db:"default_available_from"`
	DefaultShareScope    *Scope     `json:"defaultShareScope,omitempty" db:"default_share_scope"`
	SharedWith           []string   `json:"sharedWith,omitempty" db:"shared_with"`
	UpdatedAt            *time.Time `json:"updatedAt,omitempty" db:"updated_at"`
}
