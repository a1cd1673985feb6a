package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/cache/redis"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	memrepo "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository/memory"
	memstorage "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/storage/memory"
)

// interleavingRepo runs between once, right after the first TopRated read
// returns and before the caller gets to fill the cache.
type interleavingRepo struct {
	*memrepo.BookRepository
	once    sync.Once
	between func()
}

func (r *interleavingRepo) TopRated(ctx context.Context, limit int) ([]domain.Book, error) {
	books, err := r.BookRepository.TopRated(ctx, limit)
	r.once.Do(r.between)
	return books, err
}

func TestTopRated_RatingDuringFillIsNotHiddenByCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := &interleavingRepo{BookRepository: memrepo.NewBookRepository()}
	svc := NewBookService(repo, memstorage.New("http://localhost:4000/booksImages"),
		rediscache.NewBestRatedCache(client, time.Minute), nil, newTestLogger())
	ctx := context.Background()

	book, err := svc.Create(ctx, validCreateInput(), jpeg(), "owner")
	require.NoError(t, err)

	repo.between = func() {
		_, err := svc.AddRating(ctx, book.ID, "reader", 5)
		require.NoError(t, err)
	}

	stale, err := svc.TopRated(ctx, 3)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, 0.0, stale[0].AverageRating)
	assert.False(t, mr.Exists("books:bestrating:3"))

	fresh, err := svc.TopRated(ctx, 3)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, 5.0, fresh[0].AverageRating)
	assert.True(t, mr.Exists("books:bestrating:3"))

	cached, err := svc.TopRated(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cached[0].AverageRating)
}
