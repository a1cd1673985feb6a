package cache

import (
	"context"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
)

// BestRatedCache holds best-rated listings keyed by their size.
//
// Fills are guarded by a generation: a reader takes Generation before it
// queries the repository and hands it back to Set, which stores nothing if
// an Invalidate happened in between.
type BestRatedCache interface {
	// Get returns the cached listing of size n. The bool is false on a miss.
	Get(ctx context.Context, n int) ([]domain.Book, bool, error)

	// Generation returns the current listing generation.
	Generation(ctx context.Context) (int64, error)

	// Set stores the listing of size n if the generation is still gen.
	Set(ctx context.Context, n int, gen int64, books []domain.Book) error

	// Invalidate advances the generation and drops every cached listing.
	Invalidate(ctx context.Context) error
}

// Noop is a BestRatedCache that never holds anything.
type Noop struct{}

func (Noop) Get(context.Context, int) ([]domain.Book, bool, error) { return nil, false, nil }
func (Noop) Generation(context.Context) (int64, error) { return 0, nil }
func (Noop) Set(context.Context, int, int64, []domain.Book) error { return nil }
func (Noop) Invalidate(context.Context) error { return nil }
