package presence

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"nighton/server/internal/models"
)

// Snapshot is the resolved content of one incoming update
type Snapshot struct {
	Status        models.Status
	AvailableFrom string
	ShareScope    *models.Scope
	Recipients    []string
}

// Fingerprint hashes the snapshot tuple. Recipient order does not matter.
func (s Snapshot) Fingerprint() string {
	recipients := append([]string(nil), s.Recipients...)
	for i := range recipients {
		recipients[i] = models.NormalizeAccountID(recipients[i])
	}
	sort.Strings(recipients)

	scope := "-"
	if s.ShareScope != nil {
		scope = string(*s.ShareScope)
	}

	var b strings.Builder
	b.WriteString(string(s.Status))
	b.WriteByte('|')
	b.WriteString(s.AvailableFrom)
	b.WriteByte('|')
	b.WriteString(scope)
	b.WriteByte('|')
	b.WriteString(strings.Join(recipients, ","))

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Decision is the outcome of a coalescing check
type Decision int

const (
	Accept Decision = iota
	RejectSelf
	RejectStale
	RejectDuplicate
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case RejectSelf:
		return "reject_self"
	case RejectStale:
		return "reject_stale"
	case RejectDuplicate:
		return "reject_duplicate"
	default:
		return "unknown"
	}
}

type coalesceEntry struct {
	appliedAt   time.Time
	fingerprint string
}

// Coalescer gates incoming updates per contact on timestamp order and
// content equality. It is safe for concurrent use.
type Coalescer struct {
	selfID string
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]coalesceEntry
}

// NewCoalescer creates a coalescer for the given viewer
func NewCoalescer(selfID string, now func() time.Time) *Coalescer {
	if now == nil {
		now = time.Now
	}
	return &Coalescer{
		selfID:  models.NormalizeAccountID(selfID),
		now:     now,
		entries: make(map[string]coalesceEntry),
	}
}

// ShouldApply reports whether the update should mutate visible state.
// State is recorded only when it returns true.
func (c *Coalescer) ShouldApply(contactID string, ts time.Time, snap Snapshot) bool {
	return c.Decide(contactID, ts, snap) == Accept
}

// Decide is ShouldApply with the rejection reason
func (c *Coalescer) Decide(contactID string, ts time.Time, snap Snapshot) Decision {
	id := models.NormalizeAccountID(contactID)
	if id == "" || id == c.selfID {
		return RejectSelf
	}

	fp := snap.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.entries[id]
	if seen && !prev.appliedAt.IsZero() && !ts.IsZero() && ts.Before(prev.appliedAt) {
		return RejectStale
	}
	if seen && prev.fingerprint == fp {
		return RejectDuplicate
	}

	applied := ts
	if applied.IsZero() {
		applied = c.now()
	}
	if applied.Before(prev.appliedAt) {
		applied = prev.appliedAt
	}
	c.entries[id] = coalesceEntry{appliedAt: applied, fingerprint: fp}
	return Accept
}

// Last returns the recorded timestamp and fingerprint for a contact
func (c *Coalescer) Last(contactID string) (time.Time, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[models.NormalizeAccountID(contactID)]
	return e.appliedAt, e.fingerprint, ok
}

// Forget drops the coalescing state of a contact
func (c *Coalescer) Forget(contactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, models.NormalizeAccountID(contactID))
}
