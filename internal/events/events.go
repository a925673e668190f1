package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chainmail/internal/domain"
	"chainmail/internal/logger"
)

type Type string

const (
	SessionUpdated Type = "session.updated"
	NewMessage     Type = "message.new"
	MessageStatus  Type = "message.status"
)

type Event struct {
	Type      Type            `json:"type"`
	Session   domain.Session  `json:"session"`
	Message   *domain.Message `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type Handler func(ctx context.Context, event Event) error

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type Subscriber interface {
	Subscribe(t Type, handler Handler) (unsubscribe func())
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers.
type Bus struct {
	log *logger.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[Type][]subscription
}

func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{log: log.Named("events"), subs: make(map[Type][]subscription)}
}

func (b *Bus) Subscribe(t Type, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[t]
			for i, s := range list {
				if s.id == id {
					b.subs[t] = append(list[:i:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Type]))
	for _, s := range b.subs[event.Type] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			b.log.Ctx(ctx).Warn("event handler failed",
				zap.String("type", string(event.Type)),
				zap.String("session_tag", event.Session.Tag.String()),
				zap.Error(err))
		}
	}
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)
