package bot

import (
	"context"
	"testing"
	"time"

	"quotesbot/internal/bus"
	"quotesbot/internal/domain"
)

func TestBot_RunDispatchesAttachedChannels(t *testing.T) {
	h := newHarness(t)
	messageBus := bus.New(10, testLogger())

	b := New(Config{Router: h.router, Bus: messageBus, Logger: testLogger()})
	sess, err := NewSession(h.transport, false, "")
	if err != nil {
		t.Fatal(err)
	}
	b.Attach(sess)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	messageBus.Publish(domain.Event{Channel: "other", RoomID: roomA, EventID: "$x", Sender: userA, Body: "!source"})
	for i := 0; i < 3; i++ {
		messageBus.Publish(domain.Event{Channel: "fake", RoomID: roomA, EventID: "$e", Sender: userA, Body: "!source"})
	}

	deadline := time.After(2 * time.Second)
	for len(h.transport.replies()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 replies, got %d", len(h.transport.replies()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := len(h.transport.replies()); n != 3 {
		t.Fatalf("event from unattached channel was handled: %d replies", n)
	}
}

// hangingRepo blocks every Image call until the caller's context ends.
type hangingRepo struct {
	*fakeRepo
	entered chan int
}

func (r *hangingRepo) Image(ctx context.Context, id int) (*domain.QuoteImage, error) {
	r.entered <- id
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBot_HungRepositoryOnlyStallsItsOwnCommand(t *testing.T) {
	transport := newFakeTransport()
	repo := &hangingRepo{fakeRepo: newFakeRepo(), entered: make(chan int, 3)}
	router := NewRouter(RouterConfig{Prefix: "!", Repository: repo, Logger: testLogger(), Concurrency: 2})
	messageBus := bus.New(10, testLogger())

	b := New(Config{Router: router, Bus: messageBus, Logger: testLogger()})
	sess, err := NewSession(transport, false, "")
	if err != nil {
		t.Fatal(err)
	}
	b.Attach(sess)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for _, body := range []string{"!get 1", "!get 2", "!get 3"} {
		messageBus.Publish(domain.Event{Channel: "fake", RoomID: roomA, EventID: "$get", Sender: userA, Body: body})
	}
	for i := 0; i < 2; i++ {
		select {
		case <-repo.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("repository calls did not start")
		}
	}

	messageBus.Publish(domain.Event{Channel: "fake", RoomID: roomA, EventID: "$src", Sender: userA, Body: "!source"})
	deadline := time.After(2 * time.Second)
	for len(transport.replies()) == 0 {
		select {
		case <-deadline:
			t.Fatal("!source got no reply while repository calls hang")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := transport.replies()[0].Body; got != defaultSourceURL {
		t.Fatalf("first reply %q", got)
	}

	select {
	case id := <-repo.entered:
		t.Fatalf("repository call for %d ran past the limit", id)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBot_RunStopsWhenBusCloses(t *testing.T) {
	h := newHarness(t)
	messageBus := bus.New(1, testLogger())
	b := New(Config{Router: h.router, Bus: messageBus, Logger: testLogger()})

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()
	messageBus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after bus close")
	}
}

func TestNewSession_RequiresIdentity(t *testing.T) {
	sess, err := NewSession(newFakeTransport(), true, "42")
	if err != nil {
		t.Fatal(err)
	}
	if sess.UserID != botUser || sess.HomeRoom != homeRoom || !sess.Debug || sess.Admin != "42" {
		t.Fatalf("session: %+v", sess)
	}
}
