package bot

import (
	"context"

	"quotesbot/internal/domain"
)

// limitedRepository caps the number of repository calls in flight. Callers
// waiting for a slot give up when their context ends.
type limitedRepository struct {
	repo  domain.Repository
	slots chan struct{}
}

var _ domain.Repository = (*limitedRepository)(nil)

func limitRepository(repo domain.Repository, n int) *limitedRepository {
	return &limitedRepository{repo: repo, slots: make(chan struct{}, n)}
}

func (l *limitedRepository) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedRepository) release() { <-l.slots }

func (l *limitedRepository) Submit(ctx context.Context, caption string, image []byte, filename string) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return l.repo.Submit(ctx, caption, image, filename)
}

func (l *limitedRepository) LatestID(ctx context.Context) (int, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.release()
	return l.repo.LatestID(ctx)
}

func (l *limitedRepository) Search(ctx context.Context, query string, order domain.SearchOrder) ([]domain.Quote, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.repo.Search(ctx, query, order)
}

func (l *limitedRepository) Image(ctx context.Context, id int) (*domain.QuoteImage, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.repo.Image(ctx, id)
}

func (l *limitedRepository) Quote(ctx context.Context, id int) (*domain.Quote, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.repo.Quote(ctx, id)
}

func (l *limitedRepository) All(ctx context.Context) ([]domain.Quote, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.repo.All(ctx)
}

func (l *limitedRepository) PageURL(id int) string  { return l.repo.PageURL(id) }
func (l *limitedRepository) ImageURL(id int) string { return l.repo.ImageURL(id) }
