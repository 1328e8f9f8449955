package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"nighton/server/internal/models"
	"nighton/server/internal/presence"
)

// ErrHubClosed is returned once the hub has shut down
var ErrHubClosed = errors.New("hub closed")

// DefaultIdleTTL keeps a viewer's session alive briefly after its last user
// leaves so reconnects and follow-up requests reuse it
const DefaultIdleTTL = 30 * time.Second

// SessionFactory starts the reconciliation engine for one viewer
type SessionFactory func(viewerID string) *presence.Session

// viewer is one running session and everything currently using it
type viewer struct {
	id      string
	session *presence.Session
	clients map[*Client]struct{}
	refs    int

	idle    *time.Timer
	idleGen int
	stop    chan struct{}
}

// Hub owns the per-viewer sessions. A session starts with the first
// connection or request of its viewer, is shared by all of them, and is
// closed once it has been unused for the idle TTL.
type Hub struct {
	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	factory SessionFactory
	idleTTL time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	viewers map[string]*viewer
	closed  bool
	done    chan struct{}
}

// NewHub creates a hub starting sessions with factory. A negative idleTTL
// closes sessions as soon as they are unused.
func NewHub(factory SessionFactory, idleTTL time.Duration, log *zap.Logger) *Hub {
	if idleTTL == 0 {
		idleTTL = DefaultIdleTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		factory:    factory,
		idleTTL:    idleTTL,
		log:        log,
		viewers:    make(map[string]*viewer),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. All sessions are closed when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		}
	}
}

// Join registers client, failing if the hub has stopped
func (h *Hub) Join(client *Client) error {
	select {
	case h.Register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// registerClient attaches a client to its viewer's session and sends it the
// current contact list
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	v, err := h.viewerLocked(client.ViewerID)
	if err != nil {
		h.mu.Unlock()
		close(client.Send)
		return
	}
	v.clients[client] = struct{}{}
	session := v.session
	count := len(v.clients)
	h.mu.Unlock()

	client.notify(session.Reconciler.Roster())
	session.Wake()

	h.log.Info("client connected", zap.String("viewer", client.ViewerID), zap.Int("connections", count))
}

// unregisterClient detaches a client and schedules the session teardown if
// it was the last user
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	v, ok := h.viewers[client.ViewerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := v.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(v.clients, client)
	close(client.Send)
	stale := h.releaseLocked(v)
	h.mu.Unlock()

	if stale != nil {
		h.teardown(stale)
	}
	h.log.Info("client disconnected", zap.String("viewer", client.ViewerID))
}

// Acquire returns the viewer's session, starting it if needed. The session
// stays up at least until release is called.
func (h *Hub) Acquire(viewerID string) (*presence.Session, func(), error) {
	h.mu.Lock()
	v, err := h.viewerLocked(viewerID)
	if err != nil {
		h.mu.Unlock()
		return nil, nil, err
	}
	v.refs++
	h.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			h.mu.Lock()
			v.refs--
			stale := h.releaseLocked(v)
			h.mu.Unlock()
			if stale != nil {
				h.teardown(stale)
			}
		})
	}
	return v.session, release, nil
}

// Wake triggers an immediate poll for a running session. It reports whether
// the viewer had one.
func (h *Hub) Wake(viewerID string) bool {
	h.mu.Lock()
	v, ok := h.viewers[models.NormalizeAccountID(viewerID)]
	h.mu.Unlock()
	if !ok {
		return false
	}
	v.session.Wake()
	return true
}

// Roster returns the viewer's current contact list, or nil without a
// running session
func (h *Hub) Roster(viewerID string) *presence.Roster {
	h.mu.Lock()
	v, ok := h.viewers[models.NormalizeAccountID(viewerID)]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return v.session.Reconciler.Roster()
}

// SessionCount returns the number of running sessions
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, v := range h.viewers {
		n += len(v.clients)
	}
	return n
}

func (h *Hub) viewerLocked(viewerID string) (*viewer, error) {
	if h.closed {
		return nil, ErrHubClosed
	}
	id := models.NormalizeAccountID(viewerID)
	if v, ok := h.viewers[id]; ok {
		if v.idle != nil {
			v.idle.Stop()
			v.idle = nil
			v.idleGen++
		}
		return v, nil
	}

	v := &viewer{
		id:      id,
		session: h.factory(id),
		clients: make(map[*Client]struct{}),
		stop:    make(chan struct{}),
	}
	h.viewers[id] = v

	rosters, unsubscribe := v.session.Reconciler.Subscribe()
	go h.forward(v, rosters, unsubscribe)

	h.log.Debug("session started", zap.String("viewer", id))
	return v, nil
}

// releaseLocked returns v when it is unused and must be torn down now.
// Otherwise an unused v gets an idle timer.
func (h *Hub) releaseLocked(v *viewer) *viewer {
	if len(v.clients) > 0 || v.refs > 0 || h.viewers[v.id] != v {
		return nil
	}
	if h.idleTTL < 0 {
		delete(h.viewers, v.id)
		return v
	}

	v.idleGen++
	gen := v.idleGen
	v.idle = time.AfterFunc(h.idleTTL, func() { h.expire(v, gen) })
	return nil
}

func (h *Hub) expire(v *viewer, gen int) {
	h.mu.Lock()
	if h.viewers[v.id] != v || v.idleGen != gen || len(v.clients) > 0 || v.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.viewers, v.id)
	h.mu.Unlock()

	h.teardown(v)
}

func (h *Hub) teardown(v *viewer) {
	close(v.stop)
	v.session.Close()
	h.log.Debug("session closed", zap.String("viewer", v.id))
}

// forward pushes every published roster to the viewer's clients
func (h *Hub) forward(v *viewer, rosters <-chan *presence.Roster, unsubscribe func()) {
	defer unsubscribe()

	for {
		select {
		case <-v.stop:
			return
		case roster := <-rosters:
			h.mu.Lock()
			clients := make([]*Client, 0, len(v.clients))
			for c := range v.clients {
				clients = append(clients, c)
			}
			h.mu.Unlock()

			for _, c := range clients {
				c.notify(roster)
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	viewers := make([]*viewer, 0, len(h.viewers))
	for id, v := range h.viewers {
		if v.idle != nil {
			v.idle.Stop()
		}
		viewers = append(viewers, v)
		delete(h.viewers, id)
	}
	h.mu.Unlock()
	close(h.done)

	for _, v := range viewers {
		h.teardown(v)
	}
}
