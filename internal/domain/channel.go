package domain

import "context"

// Transport is the messaging side of the bot: it delivers replies, resolves
// rooms and media references, and fetches events by identifier.
type Transport interface {
	Name() string
	// UserID is the bot's own account identifier, known after Connect.
	UserID() string

	// Send delivers reply and returns the identifier of the sent event.
	// Image replies are uploaded first and then posted as an image message.
	Send(ctx context.Context, reply OutgoingReply) (string, error)
	FetchEvent(ctx context.Context, roomID, eventID string) (*Event, error)

	// IsContentRef reports whether ref is a media reference this transport
	// can download.
	IsContentRef(ref string) bool
	// DownloadContent fetches the bytes behind a media reference along with
	// the content type reported by the server.
	DownloadContent(ctx context.Context, ref string) ([]byte, string, error)

	ResolveRoom(ctx context.Context, roomOrAlias string) (string, error)
	JoinRoom(ctx context.Context, roomOrAlias string) (string, error)
	LeaveRoom(ctx context.Context, roomID string) error
}

// Channel is a transport with a lifecycle. Connect establishes the bot's
// identity and joins the configured rooms; Start then publishes inbound
// events to the bus until ctx is cancelled or Stop is called.
type Channel interface {
	Transport
	// HomeRoom is the room joined at startup, empty when none is configured.
	HomeRoom() string
	Connect(ctx context.Context) error
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
