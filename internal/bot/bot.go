package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"quotesbot/internal/domain"
	"quotesbot/internal/metrics"
)

// Bot consumes inbound events from the message bus and dispatches each one
// to the router on its own goroutine. The loop never waits on a handler, so
// a hung repository call holds up only the event that made it.
type Bot struct {
	router *Router
	bus    domain.MessageBus
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]Session

	wg sync.WaitGroup
}

// Config holds the dependencies of a Bot.
type Config struct {
	Router *Router
	Bus    domain.MessageBus
	Logger *slog.Logger
}

// New creates a Bot.
func New(cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bot{
		router:   cfg.Router,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		sessions: make(map[string]Session),
	}
}

// Attach registers the session used for events arriving on the transport
// named sess.Transport.Name().
func (b *Bot) Attach(sess Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sess.Transport.Name()] = sess
}

func (b *Bot) session(channel string) (Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sess, ok := b.sessions[channel]
	return sess, ok
}

// Run consumes events until ctx is cancelled or the bus is closed, then
// waits for in-flight handlers to finish.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("bot started")
	defer b.wg.Wait()

	inbound := b.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot stopping")
			return
		case evt, ok := <-inbound:
			if !ok {
				b.logger.Info("inbound channel closed, bot stopping")
				return
			}
			metrics.EventsReceived.Inc()

			sess, ok := b.session(evt.Channel)
			if !ok {
				b.logger.Warn("event from unattached channel", "channel", evt.Channel, "event", evt.EventID)
				continue
			}

			b.wg.Add(1)
			go func(e domain.Event) {
				defer b.wg.Done()
				b.handle(ctx, sess, e)
			}(evt)
		}
	}
}

func (b *Bot) handle(ctx context.Context, sess Session, evt domain.Event) {
	metrics.HandlersActive.Inc()
	defer metrics.HandlersActive.Dec()

	b.logger.Debug("event received",
		"channel", evt.Channel,
		"room", evt.RoomID,
		"sender", evt.Sender,
		"event", evt.EventID,
	)
	b.router.Dispatch(ctx, sess, evt)
}

// NewSession builds the session for a connected channel. admin may be empty
// to use the router's administrator.
func NewSession(ch domain.Channel, debug bool, admin string) (Session, error) {
	if ch.UserID() == "" {
		return Session{}, fmt.Errorf("channel %s: not connected", ch.Name())
	}
	return Session{
		Transport: ch,
		UserID:    ch.UserID(),
		HomeRoom:  ch.HomeRoom(),
		Debug:     debug,
		Admin:     admin,
	}, nil
}
