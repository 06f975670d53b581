package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"quotesbot/internal/bus"
	"quotesbot/internal/format"
)

// commandTable lists every command in dispatch priority order.
func (r *Router) commandTable() []Command {
	p := r.prefix
	return []Command{
		{
			Verb:          "quote",
			Handler:       r.handleQuote,
			RequiresReply: true,
			NeedsArgument: true,
			Usage:         fmt.Sprintf("Usage: %squote <caption> - takes the replied to image and uploads it to %s", p, r.archiveURL),
			Summary:       "reply to an image to archive it with a caption",
		},
		{
			Verb:          "get",
			Handler:       r.handleGet,
			NeedsArgument: true,
			Usage: fmt.Sprintf("Usage: %sget <quote ID> OR (newest:)(n (result number, starting from 1):)<query> - "+
				"gets a quote by its ID, or searches for it applying score or newest posted filters, "+
				"also allows you to set which result to get", p),
			Summary: "fetch a quote by ID or search query",
		},
		{
			Verb:    "source",
			Handler: r.handleSource,
			Summary: "link to the bot's source code",
		},
		{
			Verb:          "join",
			Handler:       r.handleJoin,
			RequiresAdmin: true,
			NeedsArgument: true,
			Usage:         fmt.Sprintf("Usage: %sjoin <room ID or alias> - join a room", p),
			Summary:       "join a room (admin)",
		},
		{
			Verb:          "leave",
			Handler:       r.handleLeave,
			RequiresAdmin: true,
			NeedsArgument: true,
			Usage:         fmt.Sprintf("Usage: %sleave <room ID or alias> - leave a room", p),
			Summary:       "leave a room (admin)",
		},
		{
			Verb:          "die",
			Handler:       r.handleDie,
			RequiresAdmin: true,
			Summary:       "shut the bot down (admin)",
		},
		{
			Verb:    "help",
			Handler: r.handleHelp,
			Summary: "show this message",
		},
		{
			Verb:    "score",
			Handler: r.handleScore,
			Usage: fmt.Sprintf("Usage: %sscore <n> - lists the n best rated quotes, or the |n| worst rated ones when n is negative (default %d)",
				p, r.scoreCount),
			Summary: "list the best (n) or worst (-n) rated quotes",
		},
	}
}

func (r *Router) handleQuote(ctx context.Context, req *Request) error {
	caption := strings.TrimSpace(truncateRunes(req.Command.Argument, r.captionMax))
	if caption == "" {
		return &UsageError{Usage: r.usage("quote")}
	}
	return r.pipeline.Submit(ctx, req, caption)
}

func (r *Router) handleGet(ctx context.Context, req *Request) error {
	id, err := r.resolver.Resolve(ctx, ParseQuery(req.Command.Argument))
	if err != nil {
		return err
	}
	return r.pipeline.Retrieve(ctx, req, id)
}

func (r *Router) handleSource(ctx context.Context, req *Request) error {
	return req.reply(ctx, r.sourceURL)
}

func (r *Router) handleJoin(ctx context.Context, req *Request) error {
	target := req.Command.Argument
	roomID, err := req.Session.Transport.JoinRoom(ctx, target)
	if err != nil {
		return upstream("join "+target, fmt.Sprintf("Failed to join %s.", target), err)
	}

	r.events.Emit(bus.Notice{
		Type:    bus.NoticeRoomJoined,
		Channel: req.Event.Channel,
		RoomID:  roomID,
		Sender:  req.Event.Sender,
		Detail:  target,
	})
	return req.reply(ctx, fmt.Sprintf("Joined %s (%s).", target, roomID))
}

func (r *Router) handleLeave(ctx context.Context, req *Request) error {
	target := req.Command.Argument
	transport := req.Session.Transport

	roomID, err := transport.ResolveRoom(ctx, target)
	if err != nil {
		return upstream("resolve "+target, fmt.Sprintf("Failed to find %s.", target), err)
	}

	// Leaving the room the command came from: say goodbye while we still can.
	leavingHere := roomID == req.Event.RoomID
	if leavingHere {
		if err := req.reply(ctx, "Goodbye!"); err != nil {
			return err
		}
	}

	if err := transport.LeaveRoom(ctx, roomID); err != nil {
		if leavingHere {
			r.logger.Error("failed to leave room", "room", roomID, "err", err)
			return nil
		}
		return upstream("leave "+target, fmt.Sprintf("Failed to leave %s.", target), err)
	}

	r.events.Emit(bus.Notice{
		Type:    bus.NoticeRoomLeft,
		Channel: req.Event.Channel,
		RoomID:  roomID,
		Sender:  req.Event.Sender,
		Detail:  target,
	})
	if leavingHere {
		return nil
	}
	return req.reply(ctx, fmt.Sprintf("Left %s (%s).", target, roomID))
}

func (r *Router) handleDie(ctx context.Context, req *Request) error {
	if err := req.reply(ctx, "Goodnight!"); err != nil {
		r.logger.Warn("failed to send farewell", "err", err)
	}
	r.logger.Info("shutdown requested", "sender", req.Event.Sender, "room", req.Event.RoomID)
	r.exit()
	return nil
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	msg := format.Markdown(r.helpMarkdown())
	return req.replyRich(ctx, msg.Plain, msg.HTML)
}

func (r *Router) handleScore(ctx context.Context, req *Request) error {
	n := r.scoreCount
	if arg := req.Command.Argument; arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed == 0 {
			return &UsageError{Usage: r.usage("score")}
		}
		n = parsed
	}

	all, err := r.repo.All(ctx)
	if err != nil {
		return upstream("list quotes", "Failed to fetch the quotes.", err)
	}

	selected := selectRanked(all, n)
	switch len(selected) {
	case 0:
		return ErrNotFound
	case 1:
		return r.pipeline.Retrieve(ctx, req, selected[0].ID)
	}

	msg := format.ScoreList(selected, r.repo.PageURL)
	return req.replyRich(ctx, msg.Plain, msg.HTML)
}

// selectRanked returns the first n entries for positive n and the last -n
// entries for negative n, clipped to the list length.
func selectRanked[T any](list []T, n int) []T {
	if n >= 0 {
		return list[:min(n, len(list))]
	}
	count := min(-n, len(list))
	return list[len(list)-count:]
}

func (r *Router) usage(verb string) string {
	for _, cmd := range r.Commands() {
		if cmd.Verb == verb {
			return cmd.Usage
		}
	}
	return ""
}

func (r *Router) helpMarkdown() string {
	var sb strings.Builder
	sb.WriteString("**Quotes bot commands**\n\n")
	for _, cmd := range r.Commands() {
		fmt.Fprintf(&sb, "- `%s%s` - %s\n", r.prefix, cmd.Verb, cmd.Summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}
