package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/database"
	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
)

const (
	pgUniqueViolation = "23505"
	pgInvalidText     = "22P02"
)

// bookSelect loads a book with its ratings aggregated as a JSON array in
// insertion order.
const bookSelect = `
	SELECT b.id, b.user_id, b.title, b.author, b.year, b.genre, b.image_url, b.image_key,
		b.average_rating, b.created_at, b.updated_at,
		COALESCE((
			SELECT json_agg(json_build_object('userId', r.user_id, 'grade', r.grade) ORDER BY r.seq)
			FROM book_ratings r
			WHERE r.book_id = b.id
		), '[]'::json) AS ratings
	FROM books b`

// BookRepository implements repository.BookRepository on PostgreSQL.
type BookRepository struct {
	db database.DBTX
}

// NewBookRepository creates a repository on top of a pgx pool or any DBTX.
func NewBookRepository(db database.DBTX) *BookRepository {
	return &BookRepository{db: db}
}

// Create inserts the book and its initial ratings in one transaction.
func (r *BookRepository) Create(ctx context.Context, b *domain.Book) (err error) {
	const query = `
		INSERT INTO books (id, user_id, title, author, year, genre, image_url, image_key, average_rating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	ctx, end := database.TraceQuery(ctx, "CreateBook", query)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperrors.PersistenceFailure("begin create book", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, query,
		b.ID, b.UserID, b.Title, b.Author, b.Year, b.Genre,
		b.ImageURL, b.ImageKey, b.AverageRating, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("insert book", err)
	}

	for _, rating := range b.Ratings {
		if err = insertRating(ctx, tx, b.ID, rating); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return apperrors.PersistenceFailure("commit create book", err)
	}
	return nil
}

// GetByID returns a book with its ratings.
func (r *BookRepository) GetByID(ctx context.Context, id string) (b *domain.Book, err error) {
	query := bookSelect + ` WHERE b.id = $1`

	ctx, end := database.TraceQuery(ctx, "GetBook", query)
	defer func() { end(err) }()

	return getBook(ctx, r.db, query, id)
}

// List returns every book, oldest first.
func (r *BookRepository) List(ctx context.Context) (books []domain.Book, err error) {
	query := bookSelect + ` ORDER BY b.created_at ASC, b.id ASC`

	ctx, end := database.TraceQuery(ctx, "ListBooks", query)
	defer func() { end(err) }()

	return r.queryBooks(ctx, "list books", query)
}

// TopRated returns up to limit books by descending average rating.
func (r *BookRepository) TopRated(ctx context.Context, limit int) (books []domain.Book, err error) {
	query := bookSelect + ` ORDER BY b.average_rating DESC, b.created_at ASC, b.id ASC LIMIT $1`

	ctx, end := database.TraceQuery(ctx, "TopRatedBooks", query)
	defer func() { end(err) }()

	return r.queryBooks(ctx, "list best rated books", query, limit)
}

// Update writes the owner-editable fields. The owner condition in the WHERE
// clause keeps the write from landing on a book that changed hands.
func (r *BookRepository) Update(ctx context.Context, b *domain.Book) (err error) {
	const query = `
		UPDATE books
		SET title = $1, author = $2, year = $3, genre = $4, image_url = $5, image_key = $6, updated_at = $7
		WHERE id = $8 AND user_id = $9`

	ctx, end := database.TraceQuery(ctx, "UpdateBook", query)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, query,
		b.Title, b.Author, b.Year, b.Genre, b.ImageURL, b.ImageKey, b.UpdatedAt,
		b.ID, b.UserID,
	)
	if err != nil {
		return mapWriteError("update book", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("book", b.ID)
	}
	return nil
}

// Delete removes the book and, through ON DELETE CASCADE, its ratings.
func (r *BookRepository) Delete(ctx context.Context, id, ownerID string) (err error) {
	const query = `DELETE FROM books WHERE id = $1 AND user_id = $2`

	ctx, end := database.TraceQuery(ctx, "DeleteBook", query)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, query, id, ownerID)
	if err != nil {
		if isInvalidID(err) {
			return apperrors.NotFound("book", id)
		}
		return apperrors.PersistenceFailure("delete book", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("book", id)
	}
	return nil
}

// AddRating locks the book row, rejects a second rating by the same user,
// appends the rating and stores the recomputed average, all in one
// transaction. Concurrent raters of the same book serialize on the row lock.
func (r *BookRepository) AddRating(ctx context.Context, id string, rating domain.Rating) (b *domain.Book, err error) {
	const lockQuery = `SELECT id FROM books WHERE id = $1 FOR UPDATE`
	const updateQuery = `UPDATE books SET average_rating = $1, updated_at = $2 WHERE id = $3`

	ctx, end := database.TraceQuery(ctx, "AddRating", lockQuery)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, apperrors.PersistenceFailure("begin add rating", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lockedID string
	if err = tx.QueryRow(ctx, lockQuery, id).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, apperrors.NotFound("book", id)
		}
		return nil, apperrors.PersistenceFailure("lock book", err)
	}

	b, err = getBook(ctx, tx, bookSelect+` WHERE b.id = $1`, id)
	if err != nil {
		return nil, err
	}

	if !b.AppendRating(rating) {
		return nil, alreadyRated()
	}

	if err = insertRating(ctx, tx, id, rating); err != nil {
		return nil, err
	}

	b.UpdatedAt = time.Now().UTC()
	if _, err = tx.Exec(ctx, updateQuery, b.AverageRating, b.UpdatedAt, id); err != nil {
		return nil, apperrors.PersistenceFailure("update average rating", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, apperrors.PersistenceFailure("commit add rating", err)
	}
	return b, nil
}

func (r *BookRepository) queryBooks(ctx context.Context, op, query string, args ...any) ([]domain.Book, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.PersistenceFailure(op, err)
	}
	defer rows.Close()

	books := []domain.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, apperrors.PersistenceFailure(op, err)
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.PersistenceFailure(op, err)
	}
	return books, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getBook(ctx context.Context, q queryRower, query, id string) (*domain.Book, error) {
	b, err := scanBook(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, apperrors.NotFound("book", id)
		}
		return nil, apperrors.PersistenceFailure("get book", err)
	}
	return b, nil
}

func scanBook(row pgx.Row) (*domain.Book, error) {
	var (
		b       domain.Book
		ratings []byte
	)
	if err := row.Scan(
		&b.ID, &b.UserID, &b.Title, &b.Author, &b.Year, &b.Genre, &b.ImageURL, &b.ImageKey,
		&b.AverageRating, &b.CreatedAt, &b.UpdatedAt, &ratings,
	); err != nil {
		return nil, err
	}

	b.Ratings = []domain.Rating{}
	if len(ratings) > 0 {
		if err := json.Unmarshal(ratings, &b.Ratings); err != nil {
			return nil, fmt.Errorf("decode ratings of book %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func insertRating(ctx context.Context, tx pgx.Tx, bookID string, rating domain.Rating) error {
	const query = `INSERT INTO book_ratings (book_id, user_id, grade) VALUES ($1, $2, $3)`

	if _, err := tx.Exec(ctx, query, bookID, rating.UserID, rating.Grade); err != nil {
		return mapWriteError("insert rating", err)
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.TableName == "book_ratings" {
		return alreadyRated()
	}
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperrors.Conflict("book already exists")
	}
	return apperrors.PersistenceFailure(op, err)
}

func alreadyRated() error {
	return apperrors.Conflict("you have already rated this book")
}

// isInvalidID reports whether postgres rejected an ID that is not a UUID.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidText
}
