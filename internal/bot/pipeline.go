package bot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotesbot/internal/bus"
	"quotesbot/internal/domain"
	"quotesbot/internal/format"
	"quotesbot/internal/media"
	"quotesbot/internal/metrics"

	"github.com/zeebo/blake3"
)

const (
	replyFetchFailed    = "Failed to fetch the quote."
	replyPostFailed     = "Failed to post the quote."
	replyUploadFailed   = "Failed to send the quote image."
	replyMetadataFailed = "Quote metadata is unavailable, sending the image only."
)

// Pipeline submits new quotes to the repository and re-posts existing ones
// into chat rooms.
type Pipeline struct {
	repo   domain.Repository
	events *bus.EventBus
	logger *slog.Logger
}

// NewPipeline creates a Pipeline. events may be nil.
func NewPipeline(repo domain.Repository, events *bus.EventBus, logger *slog.Logger) *Pipeline {
	return &Pipeline{repo: repo, events: events, logger: logger}
}

// Submit uploads the image of the message req replies to, captioned with
// caption, and replies with the new quote's links. A reply target that is
// not an image from this transport is ignored without a reply. Transport
// and network failures are wrapped and returned for the dispatcher to report.
func (p *Pipeline) Submit(ctx context.Context, req *Request, caption string) error {
	transport := req.Session.Transport
	evt := req.Event

	source, err := transport.FetchEvent(ctx, evt.RoomID, evt.ReplyTo)
	if err != nil {
		return fmt.Errorf("fetch replied-to event %s: %w", evt.ReplyTo, err)
	}
	if source.ContentURI == "" || !transport.IsContentRef(source.ContentURI) {
		p.logger.Debug("reply target carries no image, ignoring",
			"room", evt.RoomID, "target", evt.ReplyTo)
		return nil
	}

	data, contentType, err := transport.DownloadContent(ctx, source.ContentURI)
	if err != nil {
		return fmt.Errorf("download %s: %w", source.ContentURI, err)
	}

	mimeType := media.ContentType(data, firstNonEmpty(contentType, source.MimeType))
	filename := "quote." + media.Extension(mimeType)

	start := time.Now()
	if err := p.repo.Submit(ctx, caption, data, filename); err != nil {
		if errors.Is(err, domain.ErrRejected) {
			return upstream("submit quote", replyPostFailed, err)
		}
		return fmt.Errorf("submit quote: %w", err)
	}
	metrics.PipelineLatency.Observe(time.Since(start).Seconds())

	id, err := p.repo.LatestID(ctx)
	if err != nil {
		return fmt.Errorf("look up new quote id: %w", err)
	}

	digest := blake3.Sum256(data)
	p.events.Emit(bus.Notice{
		Type:    bus.NoticeQuoteSubmit,
		Channel: evt.Channel,
		RoomID:  evt.RoomID,
		Sender:  evt.Sender,
		QuoteID: id,
		Digest:  hex.EncodeToString(digest[:]),
		Detail:  caption,
	})
	metrics.QuotesSubmitted.Inc()

	return req.reply(ctx, fmt.Sprintf("Quote #%d posted! Check it out at %s or %s :)",
		id, p.repo.PageURL(id), p.repo.ImageURL(id)))
}

// Retrieve posts quote id into the room as an image reply to the invoking
// event, followed by a metadata annotation replying to the image. A failed
// image fetch ends the command; failed metadata only drops the annotation.
func (p *Pipeline) Retrieve(ctx context.Context, req *Request, id int) error {
	start := time.Now()
	evt := req.Event

	img, err := p.repo.Image(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrNotFound
		}
		return upstream(fmt.Sprintf("fetch image %d", id), replyFetchFailed, err)
	}

	quote, err := p.repo.Quote(ctx, id)
	if err != nil {
		p.logger.Warn("quote metadata unavailable", "quote", id, "err", err)
		quote = nil
		if err := req.reply(ctx, replyMetadataFailed); err != nil {
			return fmt.Errorf("send metadata notice: %w", err)
		}
	}

	info := media.Inspect(img.Data, img.MimeType)
	filename := "quote." + media.Extension(info.MimeType)

	imageEventID, err := req.Session.Transport.Send(ctx, domain.OutgoingReply{
		RoomID:  evt.RoomID,
		ReplyTo: evt.EventID,
		Body:    filename,
		Image: &domain.ImageAttachment{
			Data:     img.Data,
			Filename: filename,
			MimeType: info.MimeType,
			Width:    info.Width,
			Height:   info.Height,
		},
	})
	if err != nil {
		return upstream(fmt.Sprintf("send image %d", id), replyUploadFailed, err)
	}

	if quote != nil {
		msg := format.Annotation(*quote, p.repo.PageURL)
		_, err := req.Session.Transport.Send(ctx, domain.OutgoingReply{
			RoomID:  evt.RoomID,
			ReplyTo: imageEventID,
			Body:    msg.Plain,
			HTML:    msg.HTML,
		})
		if err != nil {
			return fmt.Errorf("send annotation for quote %d: %w", id, err)
		}
	}

	elapsed := time.Since(start)
	metrics.PipelineLatency.Observe(elapsed.Seconds())
	metrics.QuotesRetrieved.Inc()
	p.events.Emit(bus.Notice{
		Type:     bus.NoticeQuoteRetrieve,
		Channel:  evt.Channel,
		RoomID:   evt.RoomID,
		Sender:   evt.Sender,
		QuoteID:  id,
		Duration: elapsed,
	})
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
