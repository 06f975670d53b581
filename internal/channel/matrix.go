package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"quotesbot/internal/domain"
)

const (
	defaultSyncTimeout = 30 * time.Second
	matrixHTMLFormat   = "org.matrix.custom.html"

	// syncFilter keeps /sync to room messages and membership.
	syncFilter = `{"presence":{"types":[]},"account_data":{"types":[]},` +
		`"room":{"timeline":{"types":["m.room.message"]},"ephemeral":{"types":[]},"account_data":{"types":[]}}}`
)

// Matrix implements domain.Channel over the Matrix client-server API.
type Matrix struct {
	client   *matrixClient
	room     string
	autojoin bool
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	userID   string
	homeRoom string

	stopOnce sync.Once
	stop     chan struct{}
}

// MatrixConfig configures the Matrix channel.
type MatrixConfig struct {
	Homeserver  string
	AccessToken string
	Room        string        // room ID or alias joined at startup
	Autojoin    bool          // accept every invite
	SyncTimeout time.Duration // long-poll timeout (default 30s)
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

var _ domain.Channel = (*Matrix)(nil)

// NewMatrix creates a Matrix channel. No request is made until Connect.
func NewMatrix(cfg MatrixConfig) (*Matrix, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	client, err := newMatrixClient(cfg.Homeserver, cfg.AccessToken, cfg.HTTPClient, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Matrix{
		client:   client,
		room:     cfg.Room,
		autojoin: cfg.Autojoin,
		timeout:  cfg.SyncTimeout,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
	}, nil
}

func (m *Matrix) Name() string { return "matrix" }

func (m *Matrix) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

func (m *Matrix) HomeRoom() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.homeRoom
}

// Connect reads the bot's own identity and joins the configured room.
func (m *Matrix) Connect(ctx context.Context) error {
	userID, err := m.client.whoAmI(ctx)
	if err != nil {
		return fmt.Errorf("matrix connect: %w", err)
	}

	var home string
	if m.room != "" {
		home, err = m.client.joinRoom(ctx, m.room)
		if err != nil {
			return fmt.Errorf("matrix connect: %w", err)
		}
	}

	m.mu.Lock()
	m.userID, m.homeRoom = userID, home
	m.mu.Unlock()

	m.logger.Info("matrix connected", "user_id", userID, "room", home, "autojoin", m.autojoin)
	return nil
}

// Start long-polls /sync and publishes every new message event to bus. The
// backlog present at startup is skipped.
func (m *Matrix) Start(ctx context.Context, bus domain.MessageBus) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	initial, err := m.client.sync(ctx, "", 0, syncFilter)
	if err != nil {
		return fmt.Errorf("matrix initial sync: %w", err)
	}
	since := initial.NextBatch
	m.acceptInvites(ctx, initial)
	m.logger.Info("matrix sync started", "since", since)

	failures := 0
	for {
		resp, err := m.client.sync(ctx, since, int(m.timeout.Milliseconds()), syncFilter)
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Info("matrix channel stopping")
				return nil
			}
			if IsMatrixError(err, MatrixErrUnknownToken) {
				return fmt.Errorf("matrix sync: %w", err)
			}
			failures++
			wait := retryBackoff(failures)
			m.logger.Warn("matrix sync failed, retrying", "err", err, "attempt", failures, "backoff", wait)
			if !sleepCtx(ctx, wait) {
				m.logger.Info("matrix channel stopping")
				return nil
			}
			continue
		}
		failures = 0
		since = resp.NextBatch

		m.acceptInvites(ctx, resp)
		m.publishTimeline(resp, bus)
	}
}

// Stop ends a running Start loop. Safe to call more than once.
func (m *Matrix) Stop() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *Matrix) acceptInvites(ctx context.Context, resp *syncResponse) {
	if !m.autojoin {
		return
	}
	for roomID := range resp.Rooms.Invite {
		if _, err := m.client.joinRoom(ctx, roomID); err != nil {
			m.logger.Warn("failed to accept invite", "room", roomID, "err", err)
			continue
		}
		m.logger.Info("accepted invite", "room", roomID)
	}
}

func (m *Matrix) publishTimeline(resp *syncResponse, bus domain.MessageBus) {
	self := m.UserID()
	for roomID, room := range resp.Rooms.Join {
		for _, raw := range room.Timeline.Events {
			if raw.Type != "m.room.message" || raw.Sender == self {
				continue
			}
			raw.RoomID = roomID
			evt, err := m.toEvent(&raw)
			if err != nil {
				m.logger.Debug("skipping undecodable event", "room", roomID, "event", raw.EventID, "err", err)
				continue
			}
			bus.Publish(*evt)
		}
	}
}

func (m *Matrix) toEvent(raw *matrixEvent) (*domain.Event, error) {
	var content messageContent
	if len(raw.Content) > 0 {
		if err := json.Unmarshal(raw.Content, &content); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
	}

	evt := &domain.Event{
		Channel:    m.Name(),
		RoomID:     raw.RoomID,
		EventID:    raw.EventID,
		Sender:     raw.Sender,
		Body:       content.Body,
		MsgType:    content.MsgType,
		ContentURI: content.URL,
		Timestamp:  time.UnixMilli(raw.OriginServerTS),
	}
	if content.Info != nil {
		evt.MimeType = content.Info.MimeType
	}
	if content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil {
		evt.ReplyTo = content.RelatesTo.InReplyTo.EventID
		evt.Body = stripReplyFallback(evt.Body)
	}
	return evt, nil
}

// stripReplyFallback removes the "> <@user> quoted text" block that clients
// prepend to reply bodies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, ">") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i < len(lines) && lines[i] == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}

// Send delivers reply as a text, HTML or image message. Image data is
// uploaded to the media repository first.
func (m *Matrix) Send(ctx context.Context, reply domain.OutgoingReply) (string, error) {
	content := messageContent{MsgType: "m.text", Body: reply.Body}
	if reply.HTML != "" {
		content.Format = matrixHTMLFormat
		content.FormattedBody = reply.HTML
	}

	if img := reply.Image; img != nil {
		uri, err := m.client.upload(ctx, img.Filename, img.MimeType, img.Data)
		if err != nil {
			return "", err
		}
		content = messageContent{
			MsgType: "m.image",
			Body:    reply.Body,
			URL:     uri,
			Info: &mediaInfo{
				MimeType: img.MimeType,
				Size:     len(img.Data),
				Width:    img.Width,
				Height:   img.Height,
			},
		}
		if content.Body == "" {
			content.Body = img.Filename
		}
	}

	if reply.ReplyTo != "" {
		content.RelatesTo = &relatesTo{InReplyTo: &inReplyTo{EventID: reply.ReplyTo}}
	}
	return m.client.sendEvent(ctx, reply.RoomID, "m.room.message", content)
}

func (m *Matrix) FetchEvent(ctx context.Context, roomID, eventID string) (*domain.Event, error) {
	raw, err := m.client.getEvent(ctx, roomID, eventID)
	if err != nil {
		return nil, err
	}
	return m.toEvent(raw)
}

func (m *Matrix) IsContentRef(ref string) bool {
	return strings.HasPrefix(ref, "mxc://")
}

func (m *Matrix) DownloadContent(ctx context.Context, ref string) ([]byte, string, error) {
	return m.client.download(ctx, ref)
}

// ResolveRoom returns room IDs unchanged and resolves #aliases.
func (m *Matrix) ResolveRoom(ctx context.Context, roomOrAlias string) (string, error) {
	switch {
	case strings.HasPrefix(roomOrAlias, "!"):
		return roomOrAlias, nil
	case strings.HasPrefix(roomOrAlias, "#"):
		return m.client.resolveAlias(ctx, roomOrAlias)
	}
	return "", fmt.Errorf("not a room ID or alias: %q", roomOrAlias)
}

func (m *Matrix) JoinRoom(ctx context.Context, roomOrAlias string) (string, error) {
	if !strings.HasPrefix(roomOrAlias, "!") && !strings.HasPrefix(roomOrAlias, "#") {
		return "", fmt.Errorf("not a room ID or alias: %q", roomOrAlias)
	}
	return m.client.joinRoom(ctx, roomOrAlias)
}

func (m *Matrix) LeaveRoom(ctx context.Context, roomID string) error {
	return m.client.leaveRoom(ctx, roomID)
}

// CheckToken checks that the homeserver accepts the access token.
func (m *Matrix) CheckToken(ctx context.Context) (string, error) {
	userID, err := m.client.whoAmI(ctx)
	if err != nil {
		var matrixErr *MatrixError
		if errors.As(err, &matrixErr) && matrixErr.Code == MatrixErrUnknownToken {
			return "", fmt.Errorf("access token rejected: %w", err)
		}
		return "", err
	}
	return userID, nil
}
