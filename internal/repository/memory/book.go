package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
)

// BookRepository is an in-process repository.BookRepository. Stored books
// are copied on the way in and out so callers never share state with it.
type BookRepository struct {
	mu    sync.RWMutex
	books map[string]*domain.Book
}

// NewBookRepository creates an empty repository.
func NewBookRepository() *BookRepository {
	return &BookRepository{books: make(map[string]*domain.Book)}
}

func (r *BookRepository) Create(_ context.Context, b *domain.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.books[b.ID]; exists {
		return apperrors.Conflict("book already exists")
	}
	r.books[b.ID] = b.Clone()
	return nil
}

func (r *BookRepository) GetByID(_ context.Context, id string) (*domain.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.books[id]
	if !ok {
		return nil, apperrors.NotFound("book", id)
	}
	return b.Clone(), nil
}

func (r *BookRepository) List(_ context.Context) ([]domain.Book, error) {
	books := r.snapshot()
	sort.Slice(books, func(i, j int) bool {
		if !books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].CreatedAt.Before(books[j].CreatedAt)
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

func (r *BookRepository) TopRated(_ context.Context, limit int) ([]domain.Book, error) {
	books := r.snapshot()
	sort.Slice(books, func(i, j int) bool {
		return domain.RankedBefore(&books[i], &books[j])
	})
	if limit >= 0 && len(books) > limit {
		books = books[:limit]
	}
	return books, nil
}

func (r *BookRepository) Update(_ context.Context, b *domain.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.books[b.ID]
	if !ok || stored.UserID != b.UserID {
		return apperrors.NotFound("book", b.ID)
	}
	stored.Title = b.Title
	stored.Author = b.Author
	stored.Year = b.Year
	stored.Genre = b.Genre
	stored.ImageURL = b.ImageURL
	stored.ImageKey = b.ImageKey
	stored.UpdatedAt = b.UpdatedAt
	return nil
}

func (r *BookRepository) Delete(_ context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.books[id]
	if !ok || stored.UserID != ownerID {
		return apperrors.NotFound("book", id)
	}
	delete(r.books, id)
	return nil
}

// AddRating holds the write lock across the duplicate check, the append and
// the average recomputation.
func (r *BookRepository) AddRating(_ context.Context, id string, rating domain.Rating) (*domain.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.books[id]
	if !ok {
		return nil, apperrors.NotFound("book", id)
	}
	if !stored.AppendRating(rating) {
		return nil, apperrors.Conflict("you have already rated this book")
	}
	stored.UpdatedAt = time.Now().UTC()
	return stored.Clone(), nil
}

func (r *BookRepository) snapshot() []domain.Book {
	r.mu.RLock()
	defer r.mu.RUnlock()

	books := make([]domain.Book, 0, len(r.books))
	for _, b := range r.books {
		books = append(books, *b.Clone())
	}
	return books
}
