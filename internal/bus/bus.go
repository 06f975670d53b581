package bus

import (
	"log/slog"
	"sync"
	"time"

	"quotesbot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus carries inbound chat events from channels to the bot over a
// buffered Go channel.
type InMemoryBus struct {
	inbound chan domain.Event
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

// New creates an InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.Event, bufferSize),
		logger:  logger,
	}
}

// Publish enqueues evt. When the buffer is full it waits up to
// publishTimeout before dropping the event.
func (b *InMemoryBus) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", evt.Channel)
		return
	}

	select {
	case b.inbound <- evt:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", evt.Channel, "room", evt.RoomID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- evt:
	case <-timer.C:
		b.logger.Error("event dropped: bus full",
			"channel", evt.Channel,
			"room", evt.RoomID,
			"event", evt.EventID,
		)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Event {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
