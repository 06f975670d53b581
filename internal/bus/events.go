package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Notice types emitted by the bot.
const (
	NoticeCommand       = "command.received"
	NoticeQuoteSubmit   = "quote.submitted"
	NoticeQuoteRetrieve = "quote.retrieved"
	NoticeRoomJoined    = "room.joined"
	NoticeRoomLeft      = "room.left"
	NoticeCommandFailed = "command.failed"
)

// Notice is an internal notification about something the bot did.
type Notice struct {
	Type      string
	Channel   string
	RoomID    string
	Sender    string
	Verb      string
	QuoteID   int
	Digest    string // hex digest of submitted image bytes
	Detail    string
	Duration  time.Duration
	Timestamp time.Time
}

// NoticeHandler is a callback for notices.
type NoticeHandler func(Notice)

type namedHandler struct {
	id      string
	handler NoticeHandler
}

// EventBus is a topic-based publish/subscribe hub for notices. "*"
// subscribes to every type.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	nextID   int
	logger   *slog.Logger
}

// NewEventBus creates an EventBus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers handler for noticeType and returns the handler's ID, which
// identifies it in logs.
func (eb *EventBus) On(noticeType string, handler NoticeHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := noticeType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[noticeType] = append(eb.handlers[noticeType], namedHandler{id: id, handler: handler})
	return id
}

// Emit delivers n synchronously to every matching handler. A panicking
// handler is logged and does not affect the others. Emit on a nil bus is a
// no-op.
func (eb *EventBus) Emit(n Notice) {
	if eb == nil {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[n.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[n.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("notice handler panic", "notice", n.Type, "handler", h.id, "panic", r)
				}
			}()
			h.handler(n)
		}()
	}
}
