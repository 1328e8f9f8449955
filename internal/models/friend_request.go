package models

import "time"

// FriendRequestStatus is the lifecycle state of a connection request
type FriendRequestStatus string

const (
	RequestPending   FriendRequestStatus = "pending"
	RequestAccepted  FriendRequestStatus = "accepted"
	RequestRejected  FriendRequestStatus = "rejected"
	RequestCancelled FriendRequestStatus = "cancelled"
)

// FriendRequest represents a connection between two accounts
type FriendRequest struct {
	ID           string              `json:"id" db:"id"`
	RequesterID  string              `json:"requesterId" db:"requester_id"`
	ReceiverID   string              `json:"receiverId" db:"receiver_id"`
	Status       FriendRequestStatus `json:"status" db:"status"`
	Relationship *string             `json:"relationship,omitempty" db:"relationship"`
	CreatedAt    time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time           `json:"updatedAt" db:"updated_at"`
}

// Peer returns the other side of the request relative to accountID
func (r FriendRequest) Peer(accountID string) string {
	if NormalizeAccountID(r.RequesterID) == NormalizeAccountID(accountID) {
		return NormalizeAccountID(r.ReceiverID)
	}
	return NormalizeAccountID(r.RequesterID)
}

// Connection is an accepted peer together with the relation hint recorded
// when the request was approved
type Connection struct {
	AccountID string `json:"accountId"`
	Relation  *Scope `json:"relation,omitempty"`
}
