package domain

import (
	"context"
	"errors"
	"time"
)

// Quote is a captioned image record held by the repository.
type Quote struct {
	ID          int
	Description string
	Score       int
	Created     time.Time
	Edited      time.Time
	OCR         string
}

// QuoteImage is the raw image content of a quote.
type QuoteImage struct {
	Data     []byte
	MimeType string
}

// SearchOrder selects how repository search results are ranked.
type SearchOrder string

const (
	OrderScore  SearchOrder = "score"
	OrderNewest SearchOrder = "newest"
)

// Repository is the image quote service the bot reads from and submits to.
type Repository interface {
	Submit(ctx context.Context, caption string, image []byte, filename string) error
	LatestID(ctx context.Context) (int, error)
	Search(ctx context.Context, query string, order SearchOrder) ([]Quote, error)
	Image(ctx context.Context, id int) (*QuoteImage, error)
	Quote(ctx context.Context, id int) (*Quote, error)
	All(ctx context.Context) ([]Quote, error)

	// PageURL and ImageURL build public links for a quote.
	PageURL(id int) string
	ImageURL(id int) string
}

// ErrNotFound reports that a quote does not exist. Repository errors for
// missing quotes match it with errors.Is.
var ErrNotFound = errors.New("quote not found")

// ErrRejected reports that the repository answered a request with a
// non-success status.
var ErrRejected = errors.New("request rejected by repository")
