package bot

import (
	"context"

	"quotesbot/internal/domain"
)

// Session is the per-transport context established once at startup. It is
// passed by value and never modified afterwards.
type Session struct {
	Transport domain.Transport
	// UserID is the bot's own account; events it authored are ignored.
	UserID string
	// HomeRoom is the room the bot was configured to join at startup.
	HomeRoom string
	// Debug restricts the bot to HomeRoom.
	Debug bool
	// Admin overrides the router's administrator for this transport, whose
	// account identifiers may use a different format.
	Admin string
}

// Request is one command invocation.
type Request struct {
	Session Session
	Event   domain.Event
	Command ParsedCommand
}

// reply sends a plain text reply threaded to the invoking event.
func (req *Request) reply(ctx context.Context, text string) error {
	_, err := req.Session.Transport.Send(ctx, domain.OutgoingReply{
		RoomID:  req.Event.RoomID,
		ReplyTo: req.Event.EventID,
		Body:    text,
	})
	return err
}

// replyRich sends a reply with both a plain and an HTML body.
func (req *Request) replyRich(ctx context.Context, plain, html string) error {
	_, err := req.Session.Transport.Send(ctx, domain.OutgoingReply{
		RoomID:  req.Event.RoomID,
		ReplyTo: req.Event.EventID,
		Body:    plain,
		HTML:    html,
	})
	return err
}
