package websocket

import (
	"time"

	"nighton/server/internal/models"
	"nighton/server/internal/presence"
)

// EventType represents different WebSocket event types
type EventType string

const (
	// Server to client
	EventContactsSnapshot EventType = "contacts_snapshot"
	EventError            EventType = "error"

	// Client to server
	EventWake      EventType = "wake"
	EventSetFilter EventType = "set_filter"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// SnapshotPayload is the viewer's contact list as currently reconciled,
// filtered and sorted for display
type SnapshotPayload struct {
	Version  uint64                `json:"version"`
	Filter   presence.StatusFilter `json:"filter"`
	Contacts []models.Contact      `json:"contacts"`
}

// ErrorPayload represents error event payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IncomingMessage represents messages received from clients
type IncomingMessage struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// NewSnapshotMessage renders roster for one client
func NewSnapshotMessage(roster *presence.Roster, filter presence.StatusFilter) WSMessage {
	return WSMessage{
		Type: EventContactsSnapshot,
		Payload: SnapshotPayload{
			Version:  roster.Version(),
			Filter:   filter,
			Contacts: roster.Sorted(filter),
		},
		Timestamp: time.Now(),
	}
}
