package presence

import (
	"strings"

	"nighton/server/internal/models"
)

// IsVisible reports whether viewerID may see the live presence of a sender
// who published with shareScope and recipients, given the viewer's relation
// to that sender. A nil shareScope means the sender set no restriction.
func IsVisible(viewerID string, shareScope *models.Scope, recipients []string, relation models.Scope) bool {
	return scopeAllows(shareScope, relation) && recipientGate(viewerID, shareScope, recipients, relation)
}

// IsVisibleRaw is IsVisible for a scope that has not been parsed yet.
// Unrecognised scope strings mean no restriction.
func IsVisibleRaw(viewerID string, rawScope *string, recipients []string, relation models.Scope) bool {
	return IsVisible(viewerID, models.ParseScopePtr(rawScope), recipients, relation)
}

func scopeAllows(shareScope *models.Scope, relation models.Scope) bool {
	if shareScope == nil {
		return true
	}
	switch *shareScope {
	case models.ScopeCommunity:
		return relation == models.ScopeCommunity || relation == models.ScopePrivate
	case models.ScopePrivate:
		return relation == models.ScopePrivate
	default:
		return true
	}
}

// The PRIVATE tier is gated on the relation alone; its allow-list is ignored.
func recipientGate(viewerID string, shareScope *models.Scope, recipients []string, relation models.Scope) bool {
	if shareScope != nil && *shareScope == models.ScopePrivate {
		return relation == models.ScopePrivate
	}
	if len(recipients) == 0 {
		return true
	}
	viewer := models.NormalizeAccountID(viewerID)
	for _, r := range recipients {
		if strings.EqualFold(strings.TrimSpace(r), viewer) {
			return true
		}
	}
	return false
}

// Reachable reports whether a contact with the given relation can ever see
// presence shared at shareScope. Used to prune the self allow-list.
func Reachable(shareScope *models.Scope, relation models.Scope) bool {
	return scopeAllows(shareScope, relation)
}
