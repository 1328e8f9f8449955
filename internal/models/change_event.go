package models

import "strings"

// Change feed event kinds
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// UsersTable is the table carrying presence rows
const UsersTable = "users"

// ChangeEvent is one row-change notification from the shared store
type ChangeEvent struct {
	Event string      `json:"event"`
	Table string      `json:"table"`
	New   PresenceRow `json:"new"`
}

// IsPresenceUpsert reports whether the event inserted or updated a users row
func (e ChangeEvent) IsPresenceUpsert() bool {
	if !strings.EqualFold(e.Table, UsersTable) {
		return false
	}
	ev := strings.ToUpper(e.Event)
	return ev == EventInsert || ev == EventUpdate
}
