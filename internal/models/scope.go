package models

import "strings"

// Status is a contact's availability
type Status string

const (
	StatusFree  Status = "FREE"
	StatusBusy  Status = "BUSY"
	StatusUnset Status = "UNSET"
)

// Scope is a closeness tier, most to least restrictive
type Scope string

const (
	ScopePrivate   Scope = "PRIVATE"
	ScopeCommunity Scope = "COMMUNITY"
	ScopePublic    Scope = "PUBLIC"
)

// ScopeLabels are the human-readable labels the client shows for each tier
var ScopeLabels = map[Scope]string{
	ScopePrivate:   "近しい友人",
	ScopeCommunity: "友人",
	ScopePublic:    "知人",
}

// Relationship keys stored on accepted friend requests
const (
	RelationshipCloseFriend  = "close_friend"
	RelationshipFriend       = "friend"
	RelationshipAcquaintance = "acquaintance"
)

var scopeAliases = map[string]Scope{
	"PRIVATE":   ScopePrivate,
	"COMMUNITY": ScopeCommunity,
	"PUBLIC":    ScopePublic,

	"近しい友人": ScopePrivate,
	"友人":    ScopeCommunity,
	"知人":    ScopePublic,

	"CLOSE_FRIEND": ScopePrivate,
	"FRIEND":       ScopeCommunity,
	"ACQUAINTANCE": ScopePublic,
}

// ParseScope accepts an enum key, a locale label or a relationship key.
// The second result is false for anything it does not recognise.
func ParseScope(raw string) (Scope, bool) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", false
	}
	if s, ok := scopeAliases[key]; ok {
		return s, true
	}
	s, ok := scopeAliases[strings.ToUpper(key)]
	return s, ok
}

// ParseScopePtr returns nil for absent or unrecognised values, which callers
// treat as "no restriction".
func ParseScopePtr(raw *string) *Scope {
	if raw == nil {
		return nil
	}
	s, ok := ParseScope(*raw)
	if !ok {
		return nil
	}
	return &s
}

// Relationship returns the friend_requests relationship key for a scope
func (s Scope) Relationship() string {
	switch s {
	case ScopePrivate:
		return RelationshipCloseFriend
	case ScopeCommunity:
		return RelationshipFriend
	default:
		return RelationshipAcquaintance
	}
}

// Closeness orders scopes for display: PRIVATE first
func (s Scope) Closeness() int {
	switch s {
	case ScopePrivate:
		return 0
	case ScopeCommunity:
		return 1
	default:
		return 2
	}
}

// Valid reports whether s is one of the three tiers
func (s Scope) Valid() bool {
	return s == ScopePrivate || s == ScopeCommunity || s == ScopePublic
}

// ParseStatus maps anything other than FREE to BUSY.
func ParseStatus(raw *string) Status {
	if raw != nil && strings.EqualFold(strings.TrimSpace(*raw), string(StatusFree)) {
		return StatusFree
	}
	return StatusBusy
}

// NormalizeAccountID upper-cases and trims an account identifier
func NormalizeAccountID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
