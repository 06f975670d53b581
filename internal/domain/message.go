package domain

import "time"

// Event is a single chat message delivered by a transport.
type Event struct {
	Channel    string // transport name, e.g. "matrix"
	RoomID     string
	EventID    string
	Sender     string
	Body       string
	MsgType    string // m.text | m.image | ...
	ContentURI string // media reference on image events
	MimeType   string
	ReplyTo    string // event ID this message replies to, empty when not a reply
	Timestamp  time.Time
}

// IsReply reports whether the event carries a reply relation.
func (e Event) IsReply() bool {
	return e.ReplyTo != ""
}

// ImageAttachment is raw image content to be uploaded alongside a message.
type ImageAttachment struct {
	Data     []byte
	Filename string
	MimeType string
	Width    int
	Height   int
}

// OutgoingReply is a message handed to a transport for delivery.
type OutgoingReply struct {
	RoomID  string
	ReplyTo string           // optional event ID to thread the reply to
	Body    string           // plain text body (fallback when HTML is set)
	HTML    string           // optional rich text body
	Image   *ImageAttachment // when set, the message is an image message
}
