package handlers

import (
	"context"

	"go.uber.org/zap"

	"nighton/server/internal/models"
	"nighton/server/internal/utils"
	ws "nighton/server/internal/websocket"
)

// AccountStore reads and creates accounts and their presence rows
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
	GetAccountBySubject(ctx context.Context, subject string) (models.Account, error)
	CreateAccount(ctx context.Context, a models.Account) (models.Account, error)
	AccountExists(ctx context.Context, accountID string) (bool, error)
	GetPresence(ctx context.Context, accountID string) (models.PresenceRow, error)
}

// SettingsStore persists presence defaults
type SettingsStore interface {
	GetDefaults(ctx context.Context, accountID string) (models.PresenceDefaults, error)
	UpsertDefaults(ctx context.Context, d models.PresenceDefaults) (models.PresenceDefaults, error)
}

// FriendStore runs the friend request lifecycle
type FriendStore interface {
	SendRequest(ctx context.Context, requesterID, receiverID string) (models.FriendRequest, error)
	GetRequest(ctx context.Context, id string) (models.FriendRequest, error)
	CancelRequest(ctx context.Context, accountID, id string) error
	ApproveRequest(ctx context.Context, accountID, id string, relation models.Scope) error
	RejectRequest(ctx context.Context, accountID, id string) error
	SentRequests(ctx context.Context, requesterID string) ([]models.FriendRequest, error)
	ReceivedRequests(ctx context.Context, receiverID string) ([]models.FriendRequest, error)
	RejectedRequests(ctx context.Context, receiverID string) ([]models.FriendRequest, error)
}

// DefaultsCache is the best-effort cache in front of SettingsStore
type DefaultsCache interface {
	GetDefaults(ctx context.Context, accountID string) (*models.PresenceDefaults, error)
	StoreDefaults(ctx context.Context, d models.PresenceDefaults) error
	InvalidateDefaults(ctx context.Context, accountID string) error
}

// Handler serves the HTTP API
type Handler struct {
	Accounts AccountStore
	Settings SettingsStore
	Friends  FriendStore
	Cache    DefaultsCache
	Hub      *ws.Hub
	Tokens   *utils.TokenManager
	Log      *zap.Logger

	// SecureCookies marks auth cookies Secure; enable behind HTTPS
	SecureCookies bool
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
