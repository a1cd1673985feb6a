package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/cache"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/event"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/storage"
	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/validator"
)

// Best-rated listing sizes.
const (
	DefaultTopRated = 3
	MaxTopRated     = 50
)

// BookService implements the business logic for books and ratings.
type BookService struct {
	repo      repository.BookRepository
	storage   storage.Storage
	bestRated cache.BestRatedCache
	events    event.Publisher
	logger    *slog.Logger
}

// NewBookService creates a new book service. A nil cache or publisher is
// replaced by its no-op implementation.
func NewBookService(
	repo repository.BookRepository,
	store storage.Storage,
	bestRated cache.BestRatedCache,
	events event.Publisher,
	logger *slog.Logger,
) *BookService {
	if bestRated == nil {
		bestRated = cache.Noop{}
	}
	if events == nil {
		events = event.Noop{}
	}
	return &BookService{
		repo:      repo,
		storage:   store,
		bestRated: bestRated,
		events:    events,
		logger:    logger,
	}
}

// CreateBookInput holds the client-supplied fields of a new book. Grade is
// the creator's optional initial rating; 0 means none.
type CreateBookInput struct {
	Title  string
	Author string
	Year   int
	Genre  string
	Grade  int
}

// UpdateBookInput holds the fields an owner may change. Nil fields are left
// as they are.
type UpdateBookInput struct {
	Title  *string
	Author *string
	Year   *int
	Genre  *string
}

// ImageInput is an uploaded cover image.
type ImageInput struct {
	ContentType string
	Size        int64
	Data        io.Reader
}

// bookFields carries the validated metadata of a book, whether it comes
// from a create or from an update merged onto the stored book.
type bookFields struct {
	Title  string `json:"title" validate:"required,max=255"`
	Author string `json:"author" validate:"required,max=255"`
	Year   int    `json:"year" validate:"gte=0,lte=9999"`
	Genre  string `json:"genre" validate:"required,max=255"`
}

// List returns every book, oldest first.
func (s *BookService) List(ctx context.Context) ([]domain.Book, error) {
	books, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// Get returns a single book.
func (s *BookService) Get(ctx context.Context, id string) (*domain.Book, error) {
	book, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// TopRated returns the n best-rated books. n <= 0 means DefaultTopRated and
// n is capped at MaxTopRated. Cache errors are logged and fall through to
// the repository; the cache is only filled when its generation could be read.
func (s *BookService) TopRated(ctx context.Context, n int) ([]domain.Book, error) {
	if n <= 0 {
		n = DefaultTopRated
	}
	if n > MaxTopRated {
		n = MaxTopRated
	}

	books, ok, err := s.bestRated.Get(ctx, n)
	if err != nil {
		s.logger.WarnContext(ctx, "best-rated cache read failed",
			slog.Int("n", n),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return books, nil
	}

	// The generation is read before the repository so a mutation that
	// commits in between makes the fill below a no-op.
	gen, genErr := s.bestRated.Generation(ctx)
	if genErr != nil {
		s.logger.WarnContext(ctx, "best-rated cache generation read failed",
			slog.String("error", genErr.Error()),
		)
	}

	books, err = s.repo.TopRated(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("list best rated books: %w", err)
	}
	if genErr != nil {
		return books, nil
	}

	if err := s.bestRated.Set(ctx, n, gen, books); err != nil {
		s.logger.WarnContext(ctx, "best-rated cache write failed",
			slog.Int("n", n),
			slog.String("error", err.Error()),
		)
	}
	return books, nil
}

// Create stores the cover image, then the book owned by callerID. If the
// book cannot be persisted the image is removed again.
func (s *BookService) Create(ctx context.Context, input *CreateBookInput, image *ImageInput, callerID string) (*domain.Book, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	if image == nil {
		return nil, apperrors.InvalidInput("image is required")
	}
	if err := validateImage(image); err != nil {
		return nil, err
	}
	if err := validator.Validate(bookFields{
		Title:  input.Title,
		Author: input.Author,
		Year:   input.Year,
		Genre:  input.Genre,
	}); err != nil {
		return nil, err
	}
	if !domain.IsValidGrade(input.Grade) {
		return nil, invalidGrade()
	}

	uploaded, err := s.uploadImage(ctx, image)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	book := &domain.Book{
		ID:        uuid.NewString(),
		UserID:    callerID,
		Title:     input.Title,
		Author:    input.Author,
		Year:      input.Year,
		Genre:     input.Genre,
		ImageURL:  uploaded.URL,
		ImageKey:  uploaded.Key,
		Ratings:   []domain.Rating{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Grade > 0 {
		book.AppendRating(domain.Rating{UserID: callerID, Grade: input.Grade})
	}

	if err := s.repo.Create(ctx, book); err != nil {
		s.releaseImage(ctx, uploaded.Key, "clean up image after failed create")
		return nil, fmt.Errorf("create book: %w", err)
	}

	s.invalidateBestRated(ctx)
	if err := s.events.PublishBookCreated(ctx, book); err != nil {
		s.logPublishError(ctx, "book.created", book.ID, err)
	}

	s.logger.InfoContext(ctx, "book created",
		slog.String("book_id", book.ID),
		slog.String("user_id", callerID),
		slog.Int("initial_grade", input.Grade),
	)
	return book, nil
}

// Update applies input, and optionally a new cover, to a book owned by
// callerID. The replaced image is removed only once the new reference is
// persisted.
func (s *BookService) Update(ctx context.Context, id string, input *UpdateBookInput, image *ImageInput, callerID string) (*domain.Book, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book for update: %w", err)
	}
	if !current.IsOwnedBy(callerID) {
		return nil, apperrors.Forbidden("you are not allowed to modify this book")
	}

	updated := current.Clone()
	if input != nil {
		applyUpdate(updated, input)
	}
	if err := validator.Validate(bookFields{
		Title:  updated.Title,
		Author: updated.Author,
		Year:   updated.Year,
		Genre:  updated.Genre,
	}); err != nil {
		return nil, err
	}
	if image != nil {
		if err := validateImage(image); err != nil {
			return nil, err
		}
	}

	var uploaded *storage.UploadResult
	if image != nil {
		uploaded, err = s.uploadImage(ctx, image)
		if err != nil {
			return nil, err
		}
		updated.ImageURL = uploaded.URL
		updated.ImageKey = uploaded.Key
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, updated); err != nil {
		if uploaded != nil {
			s.releaseImage(ctx, uploaded.Key, "clean up image after failed update")
		}
		return nil, fmt.Errorf("update book: %w", err)
	}

	if uploaded != nil && current.ImageKey != "" {
		s.releaseImage(ctx, current.ImageKey, "delete replaced image")
	}

	s.invalidateBestRated(ctx)
	if err := s.events.PublishBookUpdated(ctx, updated); err != nil {
		s.logPublishError(ctx, "book.updated", updated.ID, err)
	}

	s.logger.InfoContext(ctx, "book updated",
		slog.String("book_id", updated.ID),
		slog.Bool("image_replaced", uploaded != nil),
	)
	return updated, nil
}

// Delete removes a book owned by callerID, then its cover image. A cover
// that cannot be removed once the record is gone is logged as orphaned.
func (s *BookService) Delete(ctx context.Context, id, callerID string) error {
	book, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get book for delete: %w", err)
	}
	if !book.IsOwnedBy(callerID) {
		return apperrors.Forbidden("you are not allowed to delete this book")
	}

	if err := s.repo.Delete(ctx, id, callerID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}

	if book.ImageKey != "" {
		if err := s.storage.Delete(ctx, book.ImageKey); err != nil {
			s.logger.ErrorContext(ctx, "orphaned image after book delete",
				slog.String("book_id", id),
				slog.String("image_key", book.ImageKey),
				slog.String("error", err.Error()),
			)
		}
	}

	s.invalidateBestRated(ctx)
	if err := s.events.PublishBookDeleted(ctx, id, callerID); err != nil {
		s.logPublishError(ctx, "book.deleted", id, err)
	}

	s.logger.InfoContext(ctx, "book deleted", slog.String("book_id", id))
	return nil
}

// AddRating records callerID's grade for the book. A user rates a book at
// most once.
func (s *BookService) AddRating(ctx context.Context, id, callerID string, grade int) (*domain.Book, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	if !domain.IsValidGrade(grade) {
		return nil, invalidGrade()
	}

	rating := domain.Rating{UserID: callerID, Grade: grade}
	book, err := s.repo.AddRating(ctx, id, rating)
	if err != nil {
		return nil, fmt.Errorf("add rating: %w", err)
	}

	s.invalidateBestRated(ctx)
	if err := s.events.PublishBookRated(ctx, book, rating); err != nil {
		s.logPublishError(ctx, "book.rated", book.ID, err)
	}

	s.logger.InfoContext(ctx, "book rated",
		slog.String("book_id", book.ID),
		slog.Int("grade", grade),
		slog.Float64("average_rating", book.AverageRating),
	)
	return book, nil
}

func applyUpdate(b *domain.Book, input *UpdateBookInput) {
	if input.Title != nil {
		b.Title = *input.Title
	}
	if input.Author != nil {
		b.Author = *input.Author
	}
	if input.Year != nil {
		b.Year = *input.Year
	}
	if input.Genre != nil {
		b.Genre = *input.Genre
	}
}

func validateImage(image *ImageInput) error {
	if !domain.IsAllowedImageType(image.ContentType) {
		return apperrors.InvalidInput(fmt.Sprintf("image type %q is not allowed", image.ContentType))
	}
	if image.Size <= 0 {
		return apperrors.InvalidInput("image is empty")
	}
	if image.Size > domain.MaxImageSize {
		return apperrors.InvalidInput(fmt.Sprintf("image exceeds the maximum size of %d bytes", domain.MaxImageSize))
	}
	return nil
}

func invalidGrade() error {
	return apperrors.InvalidInput(fmt.Sprintf("grade must be between %d and %d", domain.MinGrade, domain.MaxGrade))
}

// uploadImage stores image under a fresh key. Errors that are not already
// classified are reported as storage failures.
func (s *BookService) uploadImage(ctx context.Context, image *ImageInput) (*storage.UploadResult, error) {
	key := uuid.NewString() + domain.AllowedImageTypes[image.ContentType]

	result, err := s.storage.Upload(ctx, &storage.UploadInput{
		Key:         key,
		ContentType: image.ContentType,
		Size:        image.Size,
		Data:        image.Data,
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		return nil, apperrors.StorageFailure("upload", err)
	}
	return result, nil
}

// releaseImage deletes a stored image on a best-effort basis.
func (s *BookService) releaseImage(ctx context.Context, key, reason string) {
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "failed to "+reason,
			slog.String("image_key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BookService) invalidateBestRated(ctx context.Context) {
	if err := s.bestRated.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "best-rated cache invalidation failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *BookService) logPublishError(ctx context.Context, eventType, bookID string, err error) {
	s.logger.ErrorContext(ctx, "failed to publish "+eventType+" event",
		slog.String("book_id", bookID),
		slog.String("error", err.Error()),
	)
}
