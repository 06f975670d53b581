package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"quotesbot/internal/bus"
	"quotesbot/internal/domain"
)

const (
	botUser   = "@quotes:example.org"
	adminUser = "@admin:example.org"
	userA     = "@alice:example.org"
	roomA     = "!room:example.org"
	homeRoom  = "!home:example.org"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeTransport records every call made against it.
type fakeTransport struct {
	mu sync.Mutex

	events    map[string]*domain.Event
	content   map[string][]byte
	sent      []domain.OutgoingReply
	joined    []string
	left      []string
	aliases   map[string]string
	sendErr   func(domain.OutgoingReply) error
	joinErr   error
	downloads int
	fetches   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:  make(map[string]*domain.Event),
		content: make(map[string][]byte),
		aliases: make(map[string]string),
	}
}

func (f *fakeTransport) Name() string     { return "fake" }
func (f *fakeTransport) UserID() string   { return botUser }
func (f *fakeTransport) HomeRoom() string { return homeRoom }

func (f *fakeTransport) Send(_ context.Context, reply domain.OutgoingReply) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		if err := f.sendErr(reply); err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, reply)
	return fmt.Sprintf("$sent%d", len(f.sent)), nil
}

func (f *fakeTransport) FetchEvent(_ context.Context, roomID, eventID string) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	evt, ok := f.events[eventID]
	if !ok || evt.RoomID != roomID {
		return nil, errors.New("event not found")
	}
	return evt, nil
}

func (f *fakeTransport) IsContentRef(ref string) bool {
	return strings.HasPrefix(ref, "mxc://")
}

func (f *fakeTransport) DownloadContent(_ context.Context, ref string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.content[ref]
	if !ok {
		return nil, "", errors.New("no such content")
	}
	return data, "", nil
}

func (f *fakeTransport) ResolveRoom(_ context.Context, roomOrAlias string) (string, error) {
	if strings.HasPrefix(roomOrAlias, "!") {
		return roomOrAlias, nil
	}
	if id, ok := f.aliases[roomOrAlias]; ok {
		return id, nil
	}
	return "", errors.New("unknown alias")
}

func (f *fakeTransport) JoinRoom(ctx context.Context, roomOrAlias string) (string, error) {
	if f.joinErr != nil {
		return "", f.joinErr
	}
	id, err := f.ResolveRoom(ctx, roomOrAlias)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.joined = append(f.joined, id)
	f.mu.Unlock()
	return id, nil
}

func (f *fakeTransport) LeaveRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
	return nil
}

func (f *fakeTransport) Connect(context.Context) error                  { return nil }
func (f *fakeTransport) Start(context.Context, domain.MessageBus) error { return nil }
func (f *fakeTransport) Stop() error                                    { return nil }

func (f *fakeTransport) replies() []domain.OutgoingReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OutgoingReply(nil), f.sent...)
}

// fakeRepo is an in-memory repository counting its calls.
type fakeRepo struct {
	mu sync.Mutex

	quotes  map[int]domain.Quote
	images  map[int][]byte
	ranked  []domain.Quote
	results map[string][]domain.Quote // keyed by order + ":" + query

	submitErr error
	imageErr  error
	quoteErr  error
	searchErr error

	submitted []string
	calls     map[string]int
	lastQuery string
	lastOrder domain.SearchOrder
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		quotes:  make(map[int]domain.Quote),
		images:  make(map[int][]byte),
		results: make(map[string][]domain.Quote),
		calls:   make(map[string]int),
	}
}

func (r *fakeRepo) count(op string) {
	r.mu.Lock()
	r.calls[op]++
	r.mu.Unlock()
}

func (r *fakeRepo) callCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRepo) totalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *fakeRepo) Submit(_ context.Context, caption string, image []byte, filename string) error {
	r.count("submit")
	if r.submitErr != nil {
		return r.submitErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, caption+"|"+filename)
	id := len(r.quotes) + 1
	r.quotes[id] = domain.Quote{ID: id, Description: caption}
	r.images[id] = image
	return nil
}

func (r *fakeRepo) LatestID(context.Context) (int, error) {
	r.count("latest")
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.quotes), nil
}

func (r *fakeRepo) Search(_ context.Context, query string, order domain.SearchOrder) ([]domain.Quote, error) {
	r.count("search")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQuery, r.lastOrder = query, order
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	return r.results[string(order)+":"+query], nil
}

func (r *fakeRepo) Image(_ context.Context, id int) (*domain.QuoteImage, error) {
	r.count("image")
	if r.imageErr != nil {
		return nil, r.imageErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.images[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.QuoteImage{Data: data, MimeType: "image/png"}, nil
}

func (r *fakeRepo) Quote(_ context.Context, id int) (*domain.Quote, error) {
	r.count("quote")
	if r.quoteErr != nil {
		return nil, r.quoteErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &q, nil
}

func (r *fakeRepo) All(context.Context) ([]domain.Quote, error) {
	r.count("all")
	return r.ranked, nil
}

func (r *fakeRepo) PageURL(id int) string {
	return fmt.Sprintf("https://quotes.example.org/#%d", id)
}

func (r *fakeRepo) ImageURL(id int) string {
	return fmt.Sprintf("https://quotes.example.org/image/%d", id)
}

type harness struct {
	transport *fakeTransport
	repo      *fakeRepo
	router    *Router
	events    *bus.EventBus
	exits     int
	session   Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		repo:      newFakeRepo(),
		events:    bus.NewEventBus(testLogger()),
	}
	h.router = NewRouter(RouterConfig{
		Prefix:     "!",
		Admin:      adminUser,
		ArchiveURL: "https://quotes.example.org/",
		Repository: h.repo,
		Events:     h.events,
		Logger:     testLogger(),
		Exit:       func() { h.exits++ },
	})
	h.session = Session{Transport: h.transport, UserID: botUser, HomeRoom: homeRoom}
	return h
}

// dispatch sends body from sender in roomA, optionally replying to replyTo.
func (h *harness) dispatch(sender, body, replyTo string) {
	h.router.Dispatch(context.Background(), h.session, domain.Event{
		Channel: "fake",
		RoomID:  roomA,
		EventID: "$cmd",
		Sender:  sender,
		Body:    body,
		MsgType: "m.text",
		ReplyTo: replyTo,
	})
}

func (h *harness) storeQuote(t *testing.T, q domain.Quote) {
	t.Helper()
	h.repo.quotes[q.ID] = q
	h.repo.images[q.ID] = pngBytes(t, 4, 3)
}
