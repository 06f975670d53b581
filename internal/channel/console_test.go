package channel

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"quotesbot/internal/bus"
	"quotesbot/internal/domain"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsole_StartPublishesLines(t *testing.T) {
	img := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(img, []byte("\x89PNG\r\n\x1a\nrest"), 0o644); err != nil {
		t.Fatal(err)
	}

	input := strings.Join([]string{
		"/image " + img,
		"/reply $1 !quote so fluffy",
		"/reply $99 nope",
		"",
		"!help",
		"/quit",
		"ignored after quit",
	}, "\n")
	out := &lockedBuffer{}
	console := NewConsole(ConsoleConfig{In: strings.NewReader(input), Out: out, Logger: testLogger()})
	messageBus := bus.New(10, testLogger())

	if err := console.Start(context.Background(), messageBus); err != nil {
		t.Fatal(err)
	}
	messageBus.Close()

	var events []domain.Event
	for evt := range messageBus.Subscribe() {
		events = append(events, evt)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].MsgType != "m.image" || events[0].ContentURI != "file:"+img || events[0].Body != "cat.png" {
		t.Fatalf("image event: %+v", events[0])
	}
	if events[1].ReplyTo != "$1" || events[1].Body != "!quote so fluffy" || events[1].Sender != ConsoleUser {
		t.Fatalf("reply event: %+v", events[1])
	}
	if events[2].EventID != "$3" || events[2].RoomID != consoleHome {
		t.Fatalf("text event: %+v", events[2])
	}
	if !strings.Contains(out.String(), "! no event $99") {
		t.Fatalf("output: %s", out.String())
	}

	data, _, err := console.DownloadContent(context.Background(), events[0].ContentURI)
	if err != nil || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("download: %q %v", data, err)
	}
}

func TestConsole_SendKeepsImagesQuotable(t *testing.T) {
	out := &lockedBuffer{}
	console := NewConsole(ConsoleConfig{In: strings.NewReader(""), Out: out, Logger: testLogger()})
	ctx := context.Background()

	id, err := console.Send(ctx, domain.OutgoingReply{
		RoomID:  consoleHome,
		ReplyTo: "$0",
		Image:   &domain.ImageAttachment{Data: []byte("jpeg"), Filename: "quote.jpg", MimeType: "image/jpeg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "["+id+"] bot ↩ $0: [image mem:"+id+"] quote.jpg") {
		t.Fatalf("output: %s", out.String())
	}

	evt, err := console.FetchEvent(ctx, consoleHome, id)
	if err != nil {
		t.Fatal(err)
	}
	if !console.IsContentRef(evt.ContentURI) {
		t.Fatalf("content ref %q", evt.ContentURI)
	}
	data, mimeType, err := console.DownloadContent(ctx, evt.ContentURI)
	if err != nil || string(data) != "jpeg" || mimeType != "image/jpeg" {
		t.Fatalf("download: %q %q %v", data, mimeType, err)
	}

	if _, err := console.FetchEvent(ctx, "!elsewhere", id); err == nil {
		t.Fatal("expected error for wrong room")
	}
}

func TestConsole_Rooms(t *testing.T) {
	console := NewConsole(ConsoleConfig{In: strings.NewReader(""), Out: &lockedBuffer{}, Logger: testLogger()})
	ctx := context.Background()

	roomID, err := console.JoinRoom(ctx, "#fun:local")
	if err != nil || roomID != "!fun:local" {
		t.Fatalf("join: %q %v", roomID, err)
	}
	if _, err := console.parseLine("/room !fun:local"); err != nil {
		t.Fatal(err)
	}
	evt, err := console.parseLine("hello")
	if err != nil || evt.RoomID != "!fun:local" {
		t.Fatalf("event: %+v %v", evt, err)
	}

	if err := console.LeaveRoom(ctx, "!fun:local"); err != nil {
		t.Fatal(err)
	}
	evt, _ = console.parseLine("back home")
	if evt.RoomID != consoleHome {
		t.Fatalf("room after leave = %q", evt.RoomID)
	}
	if err := console.LeaveRoom(ctx, "!fun:local"); err == nil {
		t.Fatal("expected error leaving twice")
	}
	if _, err := console.ResolveRoom(ctx, "fun"); err == nil {
		t.Fatal("expected error for bare name")
	}
}

func TestConsole_StopEndsStart(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	console := NewConsole(ConsoleConfig{In: r, Out: &lockedBuffer{}, Logger: testLogger()})

	done := make(chan error, 1)
	go func() { done <- console.Start(context.Background(), bus.New(1, testLogger())) }()

	console.Stop()
	console.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
