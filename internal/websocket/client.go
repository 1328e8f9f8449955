package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"nighton/server/internal/models"
	"nighton/server/internal/presence"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client represents one WebSocket connection of a viewer
type Client struct {
	ViewerID string
	Conn     *websocket.Conn
	Hub      *Hub
	Send     chan []byte

	// rosters holds at most the latest unsent roster
	rosters  chan *presence.Roster
	notifyMu sync.Mutex

	filterMu sync.RWMutex
	filter   presence.StatusFilter
}

// NewClient creates a new WebSocket client
func NewClient(viewerID string, conn *websocket.Conn, hub *Hub, filter presence.StatusFilter) *Client {
	if filter == "" {
		filter = presence.FilterAll
	}
	return &Client{
		ViewerID: models.NormalizeAccountID(viewerID),
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan []byte, 16),
		rosters:  make(chan *presence.Roster, 1),
		filter:   filter,
	}
}

// Filter returns the status filter applied to this client's snapshots
func (c *Client) Filter() presence.StatusFilter {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.filter
}

func (c *Client) setFilter(f presence.StatusFilter) {
	c.filterMu.Lock()
	c.filter = f
	c.filterMu.Unlock()
}

// notify queues roster for the write pump, replacing any roster not yet sent
func (c *Client) notify(roster *presence.Roster) {
	if roster == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	select {
	case <-c.rosters:
	default:
	}
	c.rosters <- roster
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("websocket read failed", zap.String("viewer", c.ViewerID), zap.Error(err))
			}
			break
		}

		var incoming IncomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.SendMessage(WSMessage{
				Type:      EventError,
				Payload:   ErrorPayload{Code: "bad_message", Message: "message is not valid JSON"},
				Timestamp: time.Now(),
			})
			continue
		}

		c.handleIncomingMessage(incoming)
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.log.Debug("websocket write failed", zap.String("viewer", c.ViewerID), zap.Error(err))
				return
			}

		case roster := <-c.rosters:
			data, err := json.Marshal(NewSnapshotMessage(roster, c.Filter()))
			if err != nil {
				c.Hub.log.Error("encode snapshot failed", zap.String("viewer", c.ViewerID), zap.Error(err))
				continue
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Hub.log.Debug("websocket write failed", zap.String("viewer", c.ViewerID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleIncomingMessage processes different types of incoming messages
func (c *Client) handleIncomingMessage(msg IncomingMessage) {
	switch msg.Type {
	case EventWake:
		c.Hub.Wake(c.ViewerID)
	case EventSetFilter:
		raw, _ := msg.Payload["status"].(string)
		c.setFilter(presence.ParseStatusFilter(raw))
		c.notify(c.Hub.Roster(c.ViewerID))
	default:
		c.SendMessage(WSMessage{
			Type:      EventError,
			Payload:   ErrorPayload{Code: "unknown_type", Message: "unknown message type " + string(msg.Type)},
			Timestamp: time.Now(),
		})
	}
}

// SendMessage queues msg for the write pump. It drops the message when
// the client is not keeping up.
func (c *Client) SendMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.Hub.log.Error("encode message failed", zap.Error(err))
		return
	}

	select {
	case c.Send <- data:
	default:
		c.Hub.log.Warn("client send buffer full, dropping message", zap.String("viewer", c.ViewerID))
	}
}
