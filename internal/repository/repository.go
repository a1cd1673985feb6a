package repository

import (
	"context"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
)

// BookRepository persists books and their ratings.
type BookRepository interface {
	// Create inserts a book together with any initial ratings.
	Create(ctx context.Context, book *domain.Book) error

	// GetByID returns the book or a NotFound error.
	GetByID(ctx context.Context, id string) (*domain.Book, error)

	// List returns every book ordered by creation time, oldest first.
	List(ctx context.Context) ([]domain.Book, error)

	// TopRated returns up to limit books by descending average rating,
	// ties broken by earlier creation time and then by ID.
	TopRated(ctx context.Context, limit int) ([]domain.Book, error)

	// Update writes the mutable fields of book. The write only applies when
	// the stored book still belongs to book.UserID; otherwise NotFound.
	Update(ctx context.Context, book *domain.Book) error

	// Delete removes the book owned by ownerID, or returns NotFound.
	Delete(ctx context.Context, id, ownerID string) error

	// AddRating atomically appends rating and recomputes the average. It
	// returns NotFound for an unknown book and Conflict when the user has
	// already rated it, in which case nothing is written.
	AddRating(ctx context.Context, id string, rating domain.Rating) (*domain.Book, error)
}
