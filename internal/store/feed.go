package store

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"nighton/server/internal/models"
)

// ErrFeedClosed is returned when subscribing to a stopped feed
var ErrFeedClosed = errors.New("change feed closed")

// DecodeChangeEvent parses a {event, table, new} payload
func DecodeChangeEvent(payload []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.ChangeEvent{}, errors.Wrap(err, "decode change event")
	}
	if ev.Event == "" || ev.Table == "" {
		return models.ChangeEvent{}, errors.New("change event without event or table")
	}
	return ev, nil
}

// broadcaster fans one stream of change events out to every session.
// Handlers are called on the delivering goroutine and must not block.
type broadcaster struct {
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[int]func(models.ChangeEvent)
	next     int
	closed   bool
}

func newBroadcaster(log *zap.Logger) *broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &broadcaster{log: log, handlers: make(map[int]func(models.ChangeEvent))}
}

// Subscribe implements presence.ChangeFeed
func (b *broadcaster) Subscribe(handler func(models.ChangeEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrFeedClosed
	}
	id := b.next
	b.next++
	b.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *broadcaster) deliver(payload []byte) {
	ev, err := DecodeChangeEvent(payload)
	if err != nil {
		b.log.Warn("dropping change notification", zap.Error(err))
		return
	}

	b.mu.RLock()
	handlers := make([]func(models.ChangeEvent), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(models.ChangeEvent))
}

func (b *broadcaster) subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
