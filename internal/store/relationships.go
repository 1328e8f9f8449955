package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"nighton/server/internal/models"
)

var (
	// ErrAlreadyFriends is returned when sending to an accepted connection
	ErrAlreadyFriends = errors.New("already friends")
	// ErrAlreadyRequested is returned when a request between the pair exists.
	// A rejection by the receiver is reported the same way.
	ErrAlreadyRequested = errors.New("request already sent")
	// ErrSelfRequest is returned when requester and receiver are the same
	ErrSelfRequest = errors.New("cannot send a request to yourself")
	// ErrNotAllowed is returned when the caller is not the party allowed to
	// make a transition
	ErrNotAllowed = errors.New("not allowed")
)

const requestColumns = `id, requester_id, receiver_id, status, relationship, created_at, updated_at`

func scanRequest(row pgx.Row) (models.FriendRequest, error) {
	var (
		r  models.FriendRequest
		id uuid.UUID
	)
	err := row.Scan(&id, &r.RequesterID, &r.ReceiverID, &r.Status, &r.Relationship, &r.CreatedAt, &r.UpdatedAt)
	r.ID = id.String()
	return r, err
}

func collectRequests(rows pgx.Rows) ([]models.FriendRequest, error) {
	defer rows.Close()

	out := make([]models.FriendRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan friend request")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate friend requests")
}

// planSend decides what sending a request means given the history between
// the pair, newest first. It returns the id of the caller's own cancelled
// request to reopen, or "" to insert a new one.
func planSend(history []models.FriendRequest, requesterID, receiverID string) (string, error) {
	for _, r := range history {
		switch r.Status {
		case models.RequestAccepted:
			return "", ErrAlreadyFriends
		case models.RequestPending:
			return "", ErrAlreadyRequested
		}
	}
	for _, r := range history {
		if r.Status == models.RequestRejected {
			return "", ErrAlreadyRequested
		}
	}
	for _, r := range history {
		if r.Status == models.RequestCancelled &&
			models.NormalizeAccountID(r.RequesterID) == requesterID &&
			models.NormalizeAccountID(r.ReceiverID) == receiverID {
			return r.ID, nil
		}
	}
	return "", nil
}

// SendRequest creates a pending request from requesterID to receiverID
func (s *Store) SendRequest(ctx context.Context, requesterID, receiverID string) (models.FriendRequest, error) {
	requesterID = models.NormalizeAccountID(requesterID)
	receiverID = models.NormalizeAccountID(receiverID)
	if requesterID == receiverID {
		return models.FriendRequest{}, ErrSelfRequest
	}

	exists, err := s.AccountExists(ctx, receiverID)
	if err != nil {
		return models.FriendRequest{}, err
	}
	if !exists {
		return models.FriendRequest{}, ErrNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM friend_requests
		WHERE (requester_id = $1 AND receiver_id = $2) OR (requester_id = $2 AND receiver_id = $1)
		ORDER BY updated_at DESC
	`, requesterID, receiverID)
	if err != nil {
		return models.FriendRequest{}, errors.Wrap(err, "load request history")
	}
	history, err := collectRequests(rows)
	if err != nil {
		return models.FriendRequest{}, err
	}

	reopenID, err := planSend(history, requesterID, receiverID)
	if err != nil {
		return models.FriendRequest{}, err
	}

	if reopenID != "" {
		return s.reopenRequest(ctx, reopenID)
	}

	r, err := scanRequest(s.db.QueryRow(ctx, `
		INSERT INTO friend_requests (id, requester_id, receiver_id, status)
		VALUES ($1, $2, $3, 'pending') RETURNING `+requestColumns,
		uuid.New(), requesterID, receiverID))
	return r, errors.Wrap(err, "insert friend request")
}

// reopenRequest moves a cancelled request back to pending. A request that
// left the cancelled state in the meantime is reported as already sent.
func (s *Store) reopenRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `
		UPDATE friend_requests SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'cancelled' RETURNING `+requestColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FriendRequest{}, ErrAlreadyRequested
	}
	return r, errors.Wrap(err, "reopen friend request")
}

// GetRequest returns one request by id
func (s *Store) GetRequest(ctx context.Context, id string) (models.FriendRequest, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return models.FriendRequest{}, ErrNotFound
	}
	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM friend_requests WHERE id = $1`, rid))
	if err != nil {
		return models.FriendRequest{}, errors.Wrap(notFound(err), "get friend request")
	}
	return r, nil
}

// CancelRequest withdraws a pending request. Only the requester may cancel.
func (s *Store) CancelRequest(ctx context.Context, accountID, id string) error {
	return s.transition(ctx, accountID, id, models.RequestCancelled, nil)
}

// ApproveRequest accepts a pending request with the receiver's chosen
// relationship. Only the receiver may approve.
func (s *Store) ApproveRequest(ctx context.Context, accountID, id string, relation models.Scope) error {
	rel := relation.Relationship()
	return s.transition(ctx, accountID, id, models.RequestAccepted, &rel)
}

// RejectRequest declines a pending request. Only the receiver may reject.
func (s *Store) RejectRequest(ctx context.Context, accountID, id string) error {
	return s.transition(ctx, accountID, id, models.RequestRejected, nil)
}

func (s *Store) transition(ctx context.Context, accountID, id string, to models.FriendRequestStatus, relationship *string) error {
	r, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if err := checkTransition(r, models.NormalizeAccountID(accountID), to); err != nil {
		return err
	}

	// the status guard loses a race against a concurrent transition
	tag, err := s.db.Exec(ctx, `
		UPDATE friend_requests
		SET status = $2, relationship = COALESCE($3, relationship), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, uuid.MustParse(r.ID), string(to), relationship)
	if err != nil {
		return errors.Wrapf(err, "set friend request %s", to)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAllowed
	}
	return nil
}

func checkTransition(r models.FriendRequest, accountID string, to models.FriendRequestStatus) error {
	if r.Status != models.RequestPending {
		return ErrNotAllowed
	}
	party := models.NormalizeAccountID(r.ReceiverID)
	if to == models.RequestCancelled {
		party = models.NormalizeAccountID(r.RequesterID)
	}
	if party != accountID {
		return ErrNotAllowed
	}
	return nil
}

// SentRequests lists the requester's pending and rejected requests, newest
// first
func (s *Store) SentRequests(ctx context.Context, requesterID string) ([]models.FriendRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM friend_requests
		WHERE requester_id = $1 AND status IN ('pending', 'rejected')
		ORDER BY created_at DESC
	`, models.NormalizeAccountID(requesterID))
	if err != nil {
		return nil, errors.Wrap(err, "list sent requests")
	}
	return collectRequests(rows)
}

// ReceivedRequests lists pending requests addressed to receiverID
func (s *Store) ReceivedRequests(ctx context.Context, receiverID string) ([]models.FriendRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM friend_requests
		WHERE receiver_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`, models.NormalizeAccountID(receiverID))
	if err != nil {
		return nil, errors.Wrap(err, "list received requests")
	}
	return collectRequests(rows)
}

// RejectedRequests lists requests receiverID has rejected
func (s *Store) RejectedRequests(ctx context.Context, receiverID string) ([]models.FriendRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM friend_requests
		WHERE receiver_id = $1 AND status = 'rejected'
		ORDER BY updated_at DESC
	`, models.NormalizeAccountID(receiverID))
	if err != nil {
		return nil, errors.Wrap(err, "list rejected requests")
	}
	return collectRequests(rows)
}

// AcceptedConnections lists the viewer's accepted peers with the relation
// recorded at approval
func (s *Store) AcceptedConnections(ctx context.Context, viewerID string) ([]models.Connection, error) {
	viewerID = models.NormalizeAccountID(viewerID)
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM friend_requests
		WHERE status = 'accepted' AND (requester_id = $1 OR receiver_id = $1)
		ORDER BY updated_at
	`, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "list connections")
	}
	reqs, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}
	return connectionsFrom(reqs, viewerID), nil
}

func connectionsFrom(reqs []models.FriendRequest, viewerID string) []models.Connection {
	seen := make(map[string]struct{}, len(reqs))
	out := make([]models.Connection, 0, len(reqs))
	for _, r := range reqs {
		peer := r.Peer(viewerID)
		if peer == "" || peer == viewerID {
			continue
		}
		if _, dup := seen[peer]; dup {
			continue
		}
		seen[peer] = struct{}{}
		conn := models.Connection{AccountID: peer}
		if r.Relationship != nil {
			conn.Relation = models.ParseScopePtr(r.Relationship)
		}
		out = append(out, conn)
	}
	return out
}
