package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"quotesbot/internal/domain"
	"quotesbot/internal/media"
)

const (
	ConsoleUser = "@you:console"
	consoleBot  = "@quotesbot:console"
	consoleHome = "!console:local"

	fileRefPrefix   = "file:"
	memoryRefPrefix = "mem:"
)

// Console implements domain.Channel on a terminal. Every line typed is a
// message in the current room; image files and replies are entered with
// slash commands, and everything the bot sends is printed with its event ID.
type Console struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	events  map[string]*domain.Event
	images  map[string]*domain.ImageAttachment
	rooms   map[string]bool
	current string

	stopOnce sync.Once
	stop     chan struct{}
}

type ConsoleConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

var _ domain.Channel = (*Console)(nil)

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		in:      cfg.In,
		out:     cfg.Out,
		logger:  cfg.Logger,
		events:  make(map[string]*domain.Event),
		images:  make(map[string]*domain.ImageAttachment),
		rooms:   map[string]bool{consoleHome: true},
		current: consoleHome,
		stop:    make(chan struct{}),
	}
}

func (c *Console) Name() string     { return "console" }
func (c *Console) UserID() string   { return consoleBot }
func (c *Console) HomeRoom() string { return consoleHome }

func (c *Console) Connect(context.Context) error { return nil }

const consoleHelp = `Type a message and press Enter. Special input:
  /image <path> [caption]   post an image file
  /reply <$id> <text>       reply to an event
  /room <!room>             switch to a joined room
  /quit                     exit`

// Start reads input until EOF, /quit, Stop or ctx cancellation.
func (c *Console) Start(ctx context.Context, bus domain.MessageBus) error {
	fmt.Fprintln(c.out, consoleHelp)

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case err := <-errCh:
			return err // nil at EOF
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}
			evt, err := c.parseLine(line)
			if err != nil {
				fmt.Fprintf(c.out, "! %v\n", err)
				continue
			}
			if evt == nil {
				continue
			}
			c.printEvent(evt, "you")
			bus.Publish(*evt)
		}
	}
}

// parseLine turns one input line into an event. It returns nil without an
// error for input handled locally.
func (c *Console) parseLine(line string) (*domain.Event, error) {
	evt := &domain.Event{
		Channel:   c.Name(),
		Sender:    ConsoleUser,
		MsgType:   "m.text",
		Body:      line,
		Timestamp: time.Now(),
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/image":
		path, caption, _ := strings.Cut(rest, " ")
		if path == "" {
			return nil, fmt.Errorf("usage: /image <path> [caption]")
		}
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		evt.MsgType = "m.image"
		evt.ContentURI = fileRefPrefix + path
		evt.Body = strings.TrimSpace(caption)
		if evt.Body == "" {
			evt.Body = filepath.Base(path)
		}
	case "/reply":
		target, text, _ := strings.Cut(rest, " ")
		if target == "" || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("usage: /reply <$id> <text>")
		}
		if _, ok := c.lookup(target); !ok {
			return nil, fmt.Errorf("no event %s", target)
		}
		evt.ReplyTo = target
		evt.Body = strings.TrimSpace(text)
	case "/room":
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.rooms[rest] {
			return nil, fmt.Errorf("not in room %q", rest)
		}
		c.current = rest
		fmt.Fprintf(c.out, "* now in %s\n", rest)
		return nil, nil
	case "/help":
		fmt.Fprintln(c.out, consoleHelp)
		return nil, nil
	}

	c.mu.Lock()
	evt.RoomID = c.current
	evt.EventID = c.allocate()
	c.events[evt.EventID] = evt
	c.mu.Unlock()
	return evt, nil
}

// allocate returns the next event ID. Callers hold c.mu.
func (c *Console) allocate() string {
	c.nextID++
	return "$" + strconv.Itoa(c.nextID)
}

func (c *Console) lookup(eventID string) (*domain.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evt, ok := c.events[eventID]
	return evt, ok
}

func (c *Console) printEvent(evt *domain.Event, who string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", evt.EventID, who)
	if evt.RoomID != consoleHome {
		fmt.Fprintf(&sb, " in %s", evt.RoomID)
	}
	if evt.ReplyTo != "" {
		fmt.Fprintf(&sb, " ↩ %s", evt.ReplyTo)
	}
	if evt.MsgType == "m.image" {
		fmt.Fprintf(&sb, ": [image %s] %s", evt.ContentURI, evt.Body)
	} else {
		fmt.Fprintf(&sb, ": %s", evt.Body)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, sb.String())
}

// Send prints reply. Image bytes are kept in memory so they can be quoted
// again by replying to the printed event.
func (c *Console) Send(_ context.Context, reply domain.OutgoingReply) (string, error) {
	evt := &domain.Event{
		Channel:   c.Name(),
		RoomID:    reply.RoomID,
		Sender:    consoleBot,
		MsgType:   "m.text",
		Body:      reply.Body,
		ReplyTo:   reply.ReplyTo,
		Timestamp: time.Now(),
	}

	c.mu.Lock()
	evt.EventID = c.allocate()
	if img := reply.Image; img != nil {
		info := media.Inspect(img.Data, img.MimeType)
		evt.MsgType = "m.image"
		evt.ContentURI = memoryRefPrefix + evt.EventID
		evt.MimeType = info.MimeType
		evt.Body = fmt.Sprintf("%s (%s, %dx%d, %d bytes)", img.Filename, info.MimeType, info.Width, info.Height, info.Size)
		c.images[evt.EventID] = img
	}
	c.events[evt.EventID] = evt
	c.mu.Unlock()

	c.printEvent(evt, "bot")
	return evt.EventID, nil
}

func (c *Console) FetchEvent(_ context.Context, roomID, eventID string) (*domain.Event, error) {
	evt, ok := c.lookup(eventID)
	if !ok || evt.RoomID != roomID {
		return nil, fmt.Errorf("console: event %s not found in %s", eventID, roomID)
	}
	cp := *evt
	return &cp, nil
}

func (c *Console) IsContentRef(ref string) bool {
	return strings.HasPrefix(ref, fileRefPrefix) || strings.HasPrefix(ref, memoryRefPrefix)
}

func (c *Console) DownloadContent(_ context.Context, ref string) ([]byte, string, error) {
	if path, ok := strings.CutPrefix(ref, fileRefPrefix); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		return data, "", nil
	}
	if id, ok := strings.CutPrefix(ref, memoryRefPrefix); ok {
		c.mu.Lock()
		img, found := c.images[id]
		c.mu.Unlock()
		if !found {
			return nil, "", fmt.Errorf("console: no image for %s", id)
		}
		return img.Data, img.MimeType, nil
	}
	return nil, "", fmt.Errorf("console: not a content reference: %q", ref)
}

// ResolveRoom maps an alias "#name" to the room ID "!name".
func (c *Console) ResolveRoom(_ context.Context, roomOrAlias string) (string, error) {
	switch {
	case strings.HasPrefix(roomOrAlias, "!"):
		return roomOrAlias, nil
	case strings.HasPrefix(roomOrAlias, "#"):
		return "!" + roomOrAlias[1:], nil
	}
	return "", fmt.Errorf("not a room ID or alias: %q", roomOrAlias)
}

func (c *Console) JoinRoom(ctx context.Context, roomOrAlias string) (string, error) {
	roomID, err := c.ResolveRoom(ctx, roomOrAlias)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
	fmt.Fprintf(c.out, "* bot joined %s (switch with /room %s)\n", roomID, roomID)
	return roomID, nil
}

func (c *Console) LeaveRoom(_ context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rooms[roomID] {
		return fmt.Errorf("console: not in room %s", roomID)
	}
	delete(c.rooms, roomID)
	if c.current == roomID {
		c.current = consoleHome
		c.rooms[consoleHome] = true
	}
	fmt.Fprintf(c.out, "* bot left %s, now in %s\n", roomID, c.current)
	return nil
}

// Stop ends a running Start loop.
func (c *Console) Stop() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
