package channel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"quotesbot/internal/bus"
	"quotesbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeBotAPI struct {
	mu         sync.Mutex
	rejectHTML bool
	messages   []map[string]string
	photos   []string
	left     []string
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, result string) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"result":`+result+`}`)
	}

	mux.HandleFunc("/bottok/getMe", func(w http.ResponseWriter, r *http.Request) {
		ok(w, `{"id":42,"is_bot":true,"first_name":"Quotes","username":"quotes_bot"}`)
	})
	mux.HandleFunc("/bottok/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.mu.Lock()
		if f.rejectHTML && r.PostForm.Get("parse_mode") == "HTML" {
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unexpected end tag"}`)
			return
		}
		f.messages = append(f.messages, map[string]string{
			"chat_id":             r.PostForm.Get("chat_id"),
			"text":                r.PostForm.Get("text"),
			"parse_mode":          r.PostForm.Get("parse_mode"),
			"reply_to_message_id": r.PostForm.Get("reply_to_message_id"),
		})
		f.mu.Unlock()
		ok(w, `{"message_id":100,"date":0,"chat":{"id":-5,"type":"group"}}`)
	})
	mux.HandleFunc("/bottok/sendPhoto", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		_, header, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("photo part: %v", err)
			return
		}
		f.mu.Lock()
		f.photos = append(f.photos, header.Filename+"|"+r.FormValue("reply_to_message_id"))
		f.mu.Unlock()
		ok(w, `{"message_id":101,"date":0,"chat":{"id":-5,"type":"group"}}`)
	})
	mux.HandleFunc("/bottok/getFile", func(w http.ResponseWriter, r *http.Request) {
		ok(w, `{"file_id":"big","file_path":"photos/file_1.jpg"}`)
	})
	mux.HandleFunc("/bottok/leaveChat", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.left = append(f.left, r.PostForm.Get("chat_id"))
		f.mu.Unlock()
		ok(w, `true`)
	})
	mux.HandleFunc("/bottok/getChat", func(w http.ResponseWriter, r *http.Request) {
		ok(w, `{"id":-1001,"type":"supergroup"}`)
	})
	mux.HandleFunc("/file/bottok/photos/file_1.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, "jpeg-data")
	})
	return mux
}

func newTestTelegram(t *testing.T, allowFrom ...string) (*Telegram, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	tg := NewTelegram(TelegramConfig{
		Token:        "tok",
		AllowFrom:    allowFrom,
		HomeChat:     "-5",
		APIEndpoint:  srv.URL + "/bot%s/%s",
		FileEndpoint: srv.URL + "/file/bot%s/%s",
		HTTPClient:   srv.Client(),
		Logger:       testLogger(),
	})
	if err := tg.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return tg, api
}

func TestTelegram_Connect(t *testing.T) {
	tg, _ := newTestTelegram(t)
	if tg.UserID() != "42" || tg.HomeRoom() != "-5" || tg.Name() != "telegram" {
		t.Fatalf("user=%q home=%q", tg.UserID(), tg.HomeRoom())
	}
}

func TestTelegram_HandleUpdateCachesReplyTarget(t *testing.T) {
	tg, _ := newTestTelegram(t)
	messageBus := bus.New(4, testLogger())

	tg.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 9},
		Chat:      &tgbotapi.Chat{ID: -5},
		Text:      "!quote  so true ",
		ReplyToMessage: &tgbotapi.Message{
			MessageID: 6,
			From:      &tgbotapi.User{ID: 8},
			Chat:      &tgbotapi.Chat{ID: -5},
			Photo: []tgbotapi.PhotoSize{
				{FileID: "small", Width: 90, Height: 90},
				{FileID: "big", Width: 800, Height: 800},
			},
		},
	}}, messageBus)

	evt := <-messageBus.Subscribe()
	if evt.Body != "!quote  so true" || evt.ReplyTo != "6" || evt.RoomID != "-5" || evt.Sender != "9" {
		t.Fatalf("event: %+v", evt)
	}

	target, err := tg.FetchEvent(context.Background(), "-5", "6")
	if err != nil {
		t.Fatal(err)
	}
	if target.ContentURI != "tg-file:big" || !tg.IsContentRef(target.ContentURI) {
		t.Fatalf("target: %+v", target)
	}

	data, _, err := tg.DownloadContent(context.Background(), target.ContentURI)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "jpeg-data" {
		t.Fatalf("data = %q", data)
	}

	if _, err := tg.FetchEvent(context.Background(), "-5", "999"); err == nil {
		t.Fatal("expected error for unseen message")
	}
}

func TestTelegram_AllowList(t *testing.T) {
	tg, _ := newTestTelegram(t, "1", " 2 ")
	messageBus := bus.New(4, testLogger())

	tg.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1, From: &tgbotapi.User{ID: 3}, Chat: &tgbotapi.Chat{ID: 1}, Text: "!help",
	}}, messageBus)
	tg.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2, From: &tgbotapi.User{ID: 2}, Chat: &tgbotapi.Chat{ID: 1}, Text: "!help",
	}}, messageBus)

	evt := <-messageBus.Subscribe()
	if evt.Sender != "2" {
		t.Fatalf("unexpected sender %q", evt.Sender)
	}
	select {
	case extra := <-messageBus.Subscribe():
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestTelegram_SendHTML(t *testing.T) {
	tg, api := newTestTelegram(t)

	id, err := tg.Send(context.Background(), domain.OutgoingReply{
		RoomID:  "-5",
		ReplyTo: "7",
		Body:    "1. #3 cats",
		HTML:    `<ol><li><a href="https://q/#3">#3</a> cats</li></ol>`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "100" {
		t.Fatalf("id = %q", id)
	}
	msg := api.messages[0]
	if msg["parse_mode"] != "HTML" || msg["reply_to_message_id"] != "7" || msg["chat_id"] != "-5" {
		t.Fatalf("message: %v", msg)
	}
	if msg["text"] != `• <a href="https://q/#3">#3</a> cats` {
		t.Fatalf("text = %q", msg["text"])
	}
}

func TestTelegram_SendPhoto(t *testing.T) {
	tg, api := newTestTelegram(t)

	id, err := tg.Send(context.Background(), domain.OutgoingReply{
		RoomID:  "-5",
		ReplyTo: "7",
		Image:   &domain.ImageAttachment{Data: []byte("png"), Filename: "quote.png", MimeType: "image/png"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "101" || len(api.photos) != 1 || api.photos[0] != "quote.png|7" {
		t.Fatalf("id=%q photos=%v", id, api.photos)
	}
}

func TestTelegram_Rooms(t *testing.T) {
	tg, api := newTestTelegram(t)
	ctx := context.Background()

	if _, err := tg.JoinRoom(ctx, "-5"); !errors.Is(err, errJoinUnsupported) {
		t.Fatalf("expected errJoinUnsupported, got %v", err)
	}
	if id, err := tg.ResolveRoom(ctx, "-5"); err != nil || id != "-5" {
		t.Fatalf("resolve id: %q %v", id, err)
	}
	if id, err := tg.ResolveRoom(ctx, "@quotes"); err != nil || id != "-1001" {
		t.Fatalf("resolve username: %q %v", id, err)
	}
	if _, err := tg.ResolveRoom(ctx, "quotes"); err == nil {
		t.Fatal("expected error for bare name")
	}
	if err := tg.LeaveRoom(ctx, "-5"); err != nil {
		t.Fatal(err)
	}
	if len(api.left) != 1 || api.left[0] != "-5" {
		t.Fatalf("left: %v", api.left)
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := splitMessage(text, 40)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 30) {
		t.Fatalf("chunks: %q", chunks)
	}
	if got := splitMessage("short", 40); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitMessage_RuneAndTagBoundaries(t *testing.T) {
	chunks := splitMessage(strings.Repeat("é", 25), 10)
	if len(chunks) != 3 || chunks[0] != strings.Repeat("é", 10) || chunks[2] != strings.Repeat("é", 5) {
		t.Fatalf("chunks: %q", chunks)
	}

	html := strings.Repeat("x", 8) + "<b>bold</b> &amp; more"
	for _, chunk := range splitMessage(html, 10) {
		if strings.Count(chunk, "<") != strings.Count(chunk, ">") {
			t.Fatalf("tag cut in %q", chunk)
		}
		if strings.Contains(chunk, "&") && !strings.Contains(chunk, "&amp;") {
			t.Fatalf("entity cut in %q", chunk)
		}
	}
	if got := strings.Join(splitMessage(html, 10), ""); got != html {
		t.Fatalf("rejoined %q", got)
	}
}

func TestTelegram_SendFallsBackToChunkedPlainText(t *testing.T) {
	tg, api := newTestTelegram(t)
	api.rejectHTML = true

	body := strings.Repeat("é", telegramMaxMsgLen+500)
	if _, err := tg.Send(context.Background(), domain.OutgoingReply{
		RoomID:  "-5",
		ReplyTo: "7",
		Body:    body,
		HTML:    "<b>" + body + "</b>",
	}); err != nil {
		t.Fatal(err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.messages) != 2 {
		t.Fatalf("expected 2 plain chunks, got %d", len(api.messages))
	}
	var rejoined string
	for i, msg := range api.messages {
		if msg["parse_mode"] != "" {
			t.Fatalf("chunk %d sent with parse mode %q", i, msg["parse_mode"])
		}
		if n := utf8.RuneCountInString(msg["text"]); n > telegramMaxMsgLen || !utf8.ValidString(msg["text"]) {
			t.Fatalf("chunk %d: %d runes, valid=%v", i, n, utf8.ValidString(msg["text"]))
		}
		rejoined += msg["text"]
	}
	if rejoined != body {
		t.Fatal("plain chunks do not rebuild the body")
	}
	if api.messages[0]["reply_to_message_id"] != "7" || api.messages[1]["reply_to_message_id"] != "" {
		t.Fatalf("reply threading: %v", api.messages)
	}
}

func TestTelegramHTML(t *testing.T) {
	got := telegramHTML("<p><strong>Help</strong></p>\n<ul>\n<li><code>!get</code></li>\n</ul>")
	if !strings.HasPrefix(got, "<strong>Help</strong>") || !strings.Contains(got, "• <code>!get</code>") {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "<p>") || strings.Contains(got, "<li>") || strings.Contains(got, "<ul>") {
		t.Fatalf("unsupported tags left: %q", got)
	}
}
