package presence

import (
	"sort"
	"strings"
	"sync/atomic"

	"nighton/server/internal/models"
)

// Roster is an immutable snapshot of the viewer's contacts. A new Roster is
// built for every change; published rosters are never modified.
type Roster struct {
	contacts []models.Contact
	index    map[string]int
	version  uint64
}

// NewRoster builds a roster from contacts, dropping duplicates and empty ids
func NewRoster(contacts []models.Contact) *Roster {
	r := &Roster{
		contacts: make([]models.Contact, 0, len(contacts)),
		index:    make(map[string]int, len(contacts)),
	}
	for _, c := range contacts {
		c.AccountID = models.NormalizeAccountID(c.AccountID)
		if c.AccountID == "" {
			continue
		}
		if _, dup := r.index[c.AccountID]; dup {
			continue
		}
		r.index[c.AccountID] = len(r.contacts)
		r.contacts = append(r.contacts, c)
	}
	return r
}

// Version increases by one for every published change
func (r *Roster) Version() uint64 { return r.version }

// Len returns the number of contacts
func (r *Roster) Len() int { return len(r.contacts) }

// Get returns the contact with the given id
func (r *Roster) Get(accountID string) (models.Contact, bool) {
	i, ok := r.index[models.NormalizeAccountID(accountID)]
	if !ok {
		return models.Contact{}, false
	}
	return r.contacts[i], true
}

// Has reports whether accountID is a known contact
func (r *Roster) Has(accountID string) bool {
	_, ok := r.index[models.NormalizeAccountID(accountID)]
	return ok
}

// IDs returns the contact ids in insertion order
func (r *Roster) IDs() []string {
	ids := make([]string, len(r.contacts))
	for i, c := range r.contacts {
		ids[i] = c.AccountID
	}
	return ids
}

// Contacts returns a copy of the contacts in insertion order
func (r *Roster) Contacts() []models.Contact {
	return append([]models.Contact(nil), r.contacts...)
}

// StatusFilter selects contacts for display
type StatusFilter string

const (
	FilterAll  StatusFilter = "ALL"
	FilterFree StatusFilter = "FREE"
	FilterBusy StatusFilter = "BUSY"
)

// ParseStatusFilter maps a query value to a filter. Unknown values mean ALL.
func ParseStatusFilter(raw string) StatusFilter {
	switch f := StatusFilter(strings.ToUpper(strings.TrimSpace(raw))); f {
	case FilterFree, FilterBusy:
		return f
	}
	return FilterAll
}

// Sorted returns the contacts matching filter in display order: FREE first
// when showing all, then earliest start time, then closeness, then name.
func (r *Roster) Sorted(filter StatusFilter) []models.Contact {
	out := make([]models.Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		switch filter {
		case FilterFree:
			if c.Status != models.StatusFree {
				continue
			}
		case FilterBusy:
			if c.Status == models.StatusFree {
				continue
			}
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter != FilterFree && filter != FilterBusy {
			pa, pb := a.Status != models.StatusFree, b.Status != models.StatusFree
			if pa != pb {
				return !pa
			}
		}
		ta, tb := timeKey(a.AvailableFrom), timeKey(b.AvailableFrom)
		if ta != tb {
			return ta < tb
		}
		ca, cb := a.RelationScope.Closeness(), b.RelationScope.Closeness()
		if ca != cb {
			return ca < cb
		}
		return a.Name < b.Name
	})
	return out
}

// timeKey sorts empty times last
func timeKey(t string) string {
	if t == "" {
		return "~"
	}
	return t
}

// with returns a copy of r where the contacts in changed replace or extend
// the existing ones.
func (r *Roster) with(changed map[string]models.Contact) *Roster {
	contacts := make([]models.Contact, len(r.contacts), len(r.contacts)+len(changed))
	copy(contacts, r.contacts)
	index := make(map[string]int, len(r.index)+len(changed))
	for k, v := range r.index {
		index[k] = v
	}

	// keep insertion order stable for newly added ids
	added := make([]string, 0)
	for id, c := range changed {
		if i, ok := index[id]; ok {
			contacts[i] = c
			continue
		}
		added = append(added, id)
	}
	sort.Strings(added)
	for _, id := range added {
		index[id] = len(contacts)
		contacts = append(contacts, changed[id])
	}

	return &Roster{contacts: contacts, index: index, version: r.version + 1}
}

// rosterHolder publishes rosters atomically so readers never block the writer
type rosterHolder struct {
	v atomic.Pointer[Roster]
}

func (h *rosterHolder) load() *Roster { return h.v.Load() }

func (h *rosterHolder) store(r *Roster) { h.v.Store(r) }
