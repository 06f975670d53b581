package bot

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"quotesbot/internal/domain"
)

const newestPrefix = "newest:"

var (
	literalPattern = regexp.MustCompile(`^\d+$`)
	indexPattern   = regexp.MustCompile(`^(\d+):`)
)

// QuoteQuery is a resolved get argument: either a literal quote identifier
// or a search with an ordering and a 1-based result index.
type QuoteQuery struct {
	Literal bool
	ID      int // literal identifier, -1 when the digits overflow

	Text  string
	Order domain.SearchOrder
	Index int
}

// ParseQuery interprets arg as a literal identifier when it is all digits,
// otherwise as "(newest:)(n:)text". An index prefix is always consumed, so
// search text that itself starts with "<digits>:" cannot be expressed.
func ParseQuery(arg string) QuoteQuery {
	if literalPattern.MatchString(arg) {
		id, err := strconv.Atoi(arg)
		if err != nil {
			id = -1
		}
		return QuoteQuery{Literal: true, ID: id}
	}

	q := QuoteQuery{Order: domain.OrderScore, Index: 1}
	text := arg

	if strings.HasPrefix(text, newestPrefix) {
		text = text[len(newestPrefix):]
		q.Order = domain.OrderNewest
	}

	if m := indexPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// Too large to be a valid position in any result list.
			n = math.MaxInt
		}
		q.Index = n
		text = text[len(m[0]):]
	}

	q.Text = strings.TrimSpace(text)
	return q
}

// Resolver turns a QuoteQuery into a quote identifier.
type Resolver struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by repo.
func NewResolver(repo domain.Repository, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Resolve returns the quote identifier q refers to. Literal identifiers are
// returned without a repository call. Searches select the Index-th result,
// with indexes below 1 selecting the first; a short result list or a failed
// search yields ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, q QuoteQuery) (int, error) {
	if q.Literal {
		if q.ID < 0 {
			return 0, ErrNotFound
		}
		return q.ID, nil
	}

	results, err := r.repo.Search(ctx, q.Text, q.Order)
	if err != nil {
		r.logger.Warn("quote search failed", "query", q.Text, "order", q.Order, "err", err)
		return 0, ErrNotFound
	}

	position := max(q.Index-1, 0)
	if position >= len(results) {
		return 0, ErrNotFound
	}
	return results[position].ID, nil
}
