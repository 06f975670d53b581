package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"quotesbot/internal/bus"
	"quotesbot/internal/domain"
	"quotesbot/internal/metrics"
)

const (
	defaultCaptionMaxLength = 128
	defaultScoreCount       = 10
	defaultSourceURL        = "https://ari.lt/gh/quotes-bot"
	defaultConcurrency      = 8
)

// HandlerFunc executes one command.
type HandlerFunc func(ctx context.Context, req *Request) error

// Command is one entry of the command table.
type Command struct {
	Verb          string
	Handler       HandlerFunc
	RequiresReply bool // only dispatched when the event replies to another event
	RequiresAdmin bool // only dispatched for the administrator
	NeedsArgument bool // an empty argument yields Usage
	Usage         string
	Summary       string
}

// RouterConfig holds the dependencies of a Router.
type RouterConfig struct {
	Prefix           string
	Admin            string
	SourceURL        string
	ArchiveURL       string // shown in the quote usage text
	CaptionMaxLength int
	ScoreCount       int
	Repository       domain.Repository
	Concurrency      int // max repository calls in flight (default 8)
	Events           *bus.EventBus // optional
	Logger           *slog.Logger
	// Exit terminates the process; invoked by the die command after the
	// farewell reply. The router calls it at most once.
	Exit func()
}

// Router maps chat events to commands and reports their outcome.
type Router struct {
	prefix     string
	admin      string
	sourceURL  string
	archiveURL string
	captionMax int
	scoreCount int

	repo     domain.Repository
	resolver *Resolver
	pipeline *Pipeline
	events   *bus.EventBus
	logger   *slog.Logger
	exit     func()

	commands []Command
}

// NewRouter creates a Router with the built-in command table.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.CaptionMaxLength <= 0 {
		cfg.CaptionMaxLength = defaultCaptionMaxLength
	}
	if cfg.ScoreCount <= 0 {
		cfg.ScoreCount = defaultScoreCount
	}
	if cfg.SourceURL == "" {
		cfg.SourceURL = defaultSourceURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Exit == nil {
		cfg.Exit = func() {}
	}
	repo := limitRepository(cfg.Repository, cfg.Concurrency)

	r := &Router{
		prefix:     cfg.Prefix,
		admin:      cfg.Admin,
		sourceURL:  cfg.SourceURL,
		archiveURL: cfg.ArchiveURL,
		captionMax: cfg.CaptionMaxLength,
		scoreCount: cfg.ScoreCount,
		repo:       repo,
		resolver:   NewResolver(repo, cfg.Logger),
		pipeline:   NewPipeline(repo, cfg.Events, cfg.Logger),
		events:     cfg.Events,
		logger:     cfg.Logger,
		exit:       sync.OnceFunc(cfg.Exit),
	}
	r.commands = r.commandTable()
	return r
}

// Commands returns the command table in priority order.
func (r *Router) Commands() []Command {
	return r.commands
}

// Dispatch handles one event. Every failure, including a panic in a handler,
// is turned into a reply according to its kind; Dispatch never fails.
func (r *Router) Dispatch(ctx context.Context, sess Session, evt domain.Event) {
	req := &Request{Session: sess, Event: evt}

	defer func() {
		if rec := recover(); rec != nil {
			r.report(ctx, req, fmt.Errorf("panic: %v\n%s", rec, debug.Stack()))
		}
	}()

	if err := r.route(ctx, req); err != nil {
		r.report(ctx, req, err)
	}
}

// route selects the command for req in table order, first match wins.
func (r *Router) route(ctx context.Context, req *Request) error {
	evt := req.Event
	if evt.Body == "" || evt.Sender == req.Session.UserID {
		return nil
	}
	if req.Session.Debug && evt.RoomID != req.Session.HomeRoom {
		return nil
	}

	parsed, ok := ParseCommand(evt.Body, r.prefix)
	if !ok {
		return nil
	}
	req.Command = parsed

	denied := false
	for _, cmd := range r.commands {
		if cmd.Verb != parsed.Verb {
			continue
		}
		if cmd.RequiresReply && !evt.IsReply() {
			continue
		}
		if cmd.RequiresAdmin && evt.Sender != r.adminFor(req.Session) {
			denied = true
			continue
		}

		metrics.Commands(cmd.Verb).Inc()
		r.events.Emit(bus.Notice{
			Type:    bus.NoticeCommand,
			Channel: evt.Channel,
			RoomID:  evt.RoomID,
			Sender:  evt.Sender,
			Verb:    cmd.Verb,
		})

		if cmd.NeedsArgument && parsed.Argument == "" {
			return &UsageError{Usage: cmd.Usage}
		}
		return cmd.Handler(ctx, req)
	}

	if denied {
		return ErrUnauthorized
	}
	return nil
}

func (r *Router) adminFor(sess Session) string {
	if sess.Admin != "" {
		return sess.Admin
	}
	return r.admin
}

// report turns a command error into at most one reply.
func (r *Router) report(ctx context.Context, req *Request, err error) {
	var (
		usageErr    *UsageError
		upstreamErr *UpstreamError
		text        string
		kind        string
	)

	switch {
	case errors.Is(err, ErrUnauthorized):
		// Privileged commands stay invisible to everyone but the admin.
		return
	case errors.As(err, &usageErr):
		kind, text = "usage", usageErr.Usage
	case errors.Is(err, ErrNotFound):
		kind, text = "not_found", replyNotFound
	case errors.As(err, &upstreamErr):
		kind, text = "upstream", upstreamErr.Reply
		r.logger.Error("upstream failure",
			"op", upstreamErr.Op,
			"room", req.Event.RoomID,
			"event", req.Event.EventID,
			"err", upstreamErr.Err,
		)
	default:
		kind, text = "unhandled", replyGeneric
		r.logger.Error("command failed",
			"verb", req.Command.Verb,
			"room", req.Event.RoomID,
			"event", req.Event.EventID,
			"err", err,
		)
	}

	metrics.Failures(kind).Inc()
	r.events.Emit(bus.Notice{
		Type:    bus.NoticeCommandFailed,
		Channel: req.Event.Channel,
		RoomID:  req.Event.RoomID,
		Sender:  req.Event.Sender,
		Verb:    req.Command.Verb,
		Detail:  kind,
	})

	if sendErr := req.reply(ctx, text); sendErr != nil {
		r.logger.Error("failed to send error reply", "room", req.Event.RoomID, "err", sendErr)
	}
}
