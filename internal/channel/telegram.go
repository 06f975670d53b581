package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quotesbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramCacheSize      = 2048
	telegramFilePrefix     = "tg-file:"
	telegramPollTimeout    = 30
)

// errJoinUnsupported is returned by JoinRoom: bots are added to chats by
// their members.
var errJoinUnsupported = errors.New("telegram: bots cannot join chats on their own")

// Telegram implements domain.Channel for a Telegram bot. Chats are rooms,
// message IDs are event IDs and photo file IDs are content references.
type Telegram struct {
	token        string
	allowFrom    []int64 // empty = allow all
	homeChat     string
	apiEndpoint  string
	fileEndpoint string
	httpClient   *http.Client

	bot    *tgbotapi.BotAPI
	logger *slog.Logger

	// Telegram has no "get message" call; messages seen by the bot are
	// cached so replies can be resolved to their image.
	cacheMu    sync.Mutex
	cache      map[string]*domain.Event
	cacheOrder []string

	stopOnce sync.Once
	stop     chan struct{}
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	HomeChat  string   // chat ID the bot is restricted to in debug mode
	// APIEndpoint and FileEndpoint override the Bot API URLs, in the
	// tgbotapi "%s token, %s method/path" format.
	APIEndpoint  string
	FileEndpoint string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

var _ domain.Channel = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Duration(telegramPollTimeout+15) * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:        cfg.Token,
		allowFrom:    allowed,
		homeChat:     cfg.HomeChat,
		apiEndpoint:  cfg.APIEndpoint,
		fileEndpoint: cfg.FileEndpoint,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
		cache:        make(map[string]*domain.Event),
		stop:         make(chan struct{}),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) UserID() string {
	if t.bot == nil {
		return ""
	}
	return strconv.FormatInt(t.bot.Self.ID, 10)
}

func (t *Telegram) HomeRoom() string { return t.homeChat }

// Connect authenticates the token with getMe.
func (t *Telegram) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.apiEndpoint, t.httpClient)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Start polls for updates and publishes messages to bus.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if t.bot == nil {
		return errors.New("telegram: Start called before Connect")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case <-t.stop:
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update, bus)
		}
	}
}

// Stop ends a running Start loop. Safe to call more than once.
func (t *Telegram) Stop() error {
	t.stopOnce.Do(func() { close(t.stop) })
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update, bus domain.MessageBus) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		return
	}

	if msg.ReplyToMessage != nil {
		t.remember(t.toEvent(msg.ReplyToMessage))
	}
	evt := t.toEvent(msg)
	t.remember(evt)

	if evt.Body == "" {
		return
	}
	t.logger.Debug("telegram message received",
		"user_id", msg.From.ID,
		"chat_id", msg.Chat.ID,
		"text_len", len(evt.Body),
	)
	bus.Publish(*evt)
}

func (t *Telegram) toEvent(msg *tgbotapi.Message) *domain.Event {
	evt := &domain.Event{
		Channel:   t.Name(),
		EventID:   strconv.Itoa(msg.MessageID),
		Body:      strings.TrimSpace(msg.Text),
		MsgType:   "m.text",
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.Chat != nil {
		evt.RoomID = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		evt.Sender = strconv.FormatInt(msg.From.ID, 10)
	}
	if msg.ReplyToMessage != nil {
		evt.ReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		largest := msg.Photo[len(msg.Photo)-1]
		evt.MsgType = "m.image"
		evt.ContentURI = telegramFilePrefix + largest.FileID
		evt.MimeType = "image/jpeg"
		evt.Body = strings.TrimSpace(msg.Caption)
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		evt.MsgType = "m.image"
		evt.ContentURI = telegramFilePrefix + msg.Document.FileID
		evt.MimeType = msg.Document.MimeType
		evt.Body = strings.TrimSpace(msg.Caption)
	}
	return evt
}

func (t *Telegram) remember(evt *domain.Event) {
	key := evt.RoomID + "/" + evt.EventID

	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if _, ok := t.cache[key]; !ok {
		t.cacheOrder = append(t.cacheOrder, key)
	}
	t.cache[key] = evt
	for len(t.cacheOrder) > telegramCacheSize {
		delete(t.cache, t.cacheOrder[0])
		t.cacheOrder = t.cacheOrder[1:]
	}
}

// FetchEvent returns a message the bot has seen, including the originals of
// replies it received.
func (t *Telegram) FetchEvent(_ context.Context, roomID, eventID string) (*domain.Event, error) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	evt, ok := t.cache[roomID+"/"+eventID]
	if !ok {
		return nil, fmt.Errorf("telegram: message %s in chat %s not seen", eventID, roomID)
	}
	copied := *evt
	return &copied, nil
}

func (t *Telegram) IsContentRef(ref string) bool {
	return strings.HasPrefix(ref, telegramFilePrefix)
}

func (t *Telegram) DownloadContent(ctx context.Context, ref string) ([]byte, string, error) {
	fileID, ok := strings.CutPrefix(ref, telegramFilePrefix)
	if !ok {
		return nil, "", fmt.Errorf("telegram: not a file reference: %q", ref)
	}
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("telegram get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(t.fileEndpoint, t.token, file.FilePath), nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram download: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, matrixMaxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Send delivers reply as a photo or as HTML/plain text chunks, returning the
// message ID of the last message sent.
func (t *Telegram) Send(ctx context.Context, reply domain.OutgoingReply) (string, error) {
	chatID, err := strconv.ParseInt(reply.RoomID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat ID %q: %w", reply.RoomID, err)
	}
	replyTo, _ := strconv.Atoi(reply.ReplyTo)

	if img := reply.Image; img != nil {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: img.Filename, Bytes: img.Data})
		photo.ReplyToMessageID = replyTo
		photo.AllowSendingWithoutReply = true
		sent, err := t.sendWithRetry(ctx, photo)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(sent.MessageID), nil
	}

	text, parseMode := reply.Body, ""
	if reply.HTML != "" {
		text, parseMode = telegramHTML(reply.HTML), tgbotapi.ModeHTML
	}

	last, sent, err := t.sendChunks(ctx, chatID, replyTo, splitMessage(text, telegramMaxMsgLen), parseMode)
	if err != nil && sent == 0 && parseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram HTML rejected, retrying as plain text", "err", err)
		last, _, err = t.sendChunks(ctx, chatID, replyTo, splitMessage(reply.Body, telegramMaxMsgLen), "")
	}
	if err != nil {
		return "", err
	}
	return strconv.Itoa(last.MessageID), nil
}

// sendChunks sends each chunk as its own message, threading the first one to
// replyTo. It returns the last message and how many chunks went out.
func (t *Telegram) sendChunks(ctx context.Context, chatID int64, replyTo int, chunks []string, parseMode string) (tgbotapi.Message, int, error) {
	var last tgbotapi.Message
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = parseMode
		msg.DisableWebPagePreview = true
		msg.AllowSendingWithoutReply = true
		if i == 0 {
			msg.ReplyToMessageID = replyTo
		}
		sent, err := t.sendWithRetry(ctx, msg)
		if err != nil {
			return last, i, err
		}
		last = sent
	}
	return last, len(chunks), nil
}

// sendWithRetry sends c, backing off on rate limits and transient failures.
func (t *Telegram) sendWithRetry(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		sent, err := t.bot.Send(c)
		if err == nil {
			return sent, nil
		}
		lastErr = err

		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			if apiErr.Code != http.StatusTooManyRequests {
				return tgbotapi.Message{}, fmt.Errorf("telegram send: %w", err)
			}
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		wait := retryBackoff(attempt + 1)
		if apiErr != nil && apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
		}
		t.logger.Warn("telegram send failed, retrying", "err", err, "attempt", attempt+1, "backoff", wait)
		if !sleepCtx(ctx, wait) {
			return tgbotapi.Message{}, ctx.Err()
		}
	}
	t.logger.Error("telegram send failed after retries", "err", lastErr, "attempts", telegramMaxSendRetries+1)
	return tgbotapi.Message{}, fmt.Errorf("telegram send: %w", lastErr)
}

// ResolveRoom accepts a numeric chat ID or a public @username.
func (t *Telegram) ResolveRoom(_ context.Context, roomOrAlias string) (string, error) {
	if _, err := strconv.ParseInt(roomOrAlias, 10, 64); err == nil {
		return roomOrAlias, nil
	}
	if !strings.HasPrefix(roomOrAlias, "@") {
		return "", fmt.Errorf("telegram: not a chat ID or @username: %q", roomOrAlias)
	}
	chat, err := t.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: roomOrAlias}})
	if err != nil {
		return "", fmt.Errorf("telegram resolve %s: %w", roomOrAlias, err)
	}
	return strconv.FormatInt(chat.ID, 10), nil
}

func (t *Telegram) JoinRoom(context.Context, string) (string, error) {
	return "", errJoinUnsupported
}

func (t *Telegram) LeaveRoom(_ context.Context, roomID string) error {
	chatID, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", roomID, err)
	}
	if _, err := t.bot.Request(tgbotapi.LeaveChatConfig{ChatID: chatID}); err != nil {
		return fmt.Errorf("telegram leave %s: %w", roomID, err)
	}
	return nil
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// splitMessage cuts text into chunks of at most maxLen runes, preferring
// line breaks in the second half of a chunk. A cut never lands inside an
// HTML tag or entity.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	runes := []rune(text)
	for len(runes) > maxLen {
		cut := chunkEnd(runes, maxLen)
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(chunks, string(runes))
}

// chunkEnd returns the index at which the next chunk of runes ends.
func chunkEnd(runes []rune, maxLen int) int {
	cut := maxLen
	for i := maxLen - 1; i >= maxLen/2; i-- {
		if runes[i] == '\n' {
			cut = i
			break
		}
	}

	// Step back over an unterminated "<tag" or "&entity".
	for i := cut - 1; i > 0 && i >= cut-maxLen/2; i-- {
		switch runes[i] {
		case '>', ';', '\n':
			return cut
		case '<', '&':
			return i
		}
	}
	return cut
}

// telegramTags maps the HTML produced by the formatter onto the subset the
// Bot API accepts.
var telegramTags = strings.NewReplacer(
	"<br/>", "\n",
	"<br>", "\n",
	"<p>", "",
	"</p>", "\n",
	"<ol>", "",
	"</ol>", "",
	"<ul>", "",
	"</ul>", "",
	"<li>", "• ",
	"</li>", "\n",
)

func telegramHTML(html string) string {
	return strings.TrimSpace(telegramTags.Replace(html))
}
