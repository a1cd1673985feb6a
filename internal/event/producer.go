package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	pkgkafka "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/kafka"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/logger"
)

// Kafka topics for book domain events.
var (
	TopicBookCreated = pkgkafka.Topic(AggregateTypeBook, "created")
	TopicBookUpdated = pkgkafka.Topic(AggregateTypeBook, "updated")
	TopicBookDeleted = pkgkafka.Topic(AggregateTypeBook, "deleted")
	TopicBookRated   = pkgkafka.Topic(AggregateTypeBook, "rated")
)

// AggregateTypeBook is the aggregate type of every book event.
const AggregateTypeBook = "book"

// SourceBookService identifies events originating from this service.
const SourceBookService = "book-service"

// BookData is the payload for book.created and book.updated events.
type BookData struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Year     int    `json:"year"`
	Genre    string `json:"genre"`
	ImageURL string `json:"image_url"`
}

// BookDeletedData is the payload for a book.deleted event.
type BookDeletedData struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// BookRatedData is the payload for a book.rated event.
type BookRatedData struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Grade         int     `json:"grade"`
	AverageRating float64 `json:"average_rating"`
	RatingCount   int     `json:"rating_count"`
}

// Publisher publishes book domain events.
type Publisher interface {
	PublishBookCreated(ctx context.Context, book *domain.Book) error
	PublishBookUpdated(ctx context.Context, book *domain.Book) error
	PublishBookDeleted(ctx context.Context, id, ownerID string) error
	PublishBookRated(ctx context.Context, book *domain.Book, rating domain.Rating) error
}

// kafkaPublisher is the part of *pkgkafka.Producer the event producer uses.
type kafkaPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes book domain events to Kafka.
type Producer struct {
	kafka  kafkaPublisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the book service.
func NewProducer(kafka kafkaPublisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishBookCreated publishes a book.created event.
func (p *Producer) PublishBookCreated(ctx context.Context, book *domain.Book) error {
	return p.publish(ctx, TopicBookCreated, book.ID, bookData(book))
}

// PublishBookUpdated publishes a book.updated event.
func (p *Producer) PublishBookUpdated(ctx context.Context, book *domain.Book) error {
	return p.publish(ctx, TopicBookUpdated, book.ID, bookData(book))
}

// PublishBookDeleted publishes a book.deleted event.
func (p *Producer) PublishBookDeleted(ctx context.Context, id, ownerID string) error {
	return p.publish(ctx, TopicBookDeleted, id, BookDeletedData{ID: id, UserID: ownerID})
}

// PublishBookRated publishes a book.rated event.
func (p *Producer) PublishBookRated(ctx context.Context, book *domain.Book, rating domain.Rating) error {
	return p.publish(ctx, TopicBookRated, book.ID, BookRatedData{
		ID:            book.ID,
		UserID:        rating.UserID,
		Grade:         rating.Grade,
		AverageRating: book.AverageRating,
		RatingCount:   len(book.Ratings),
	})
}

func (p *Producer) publish(ctx context.Context, topic, bookID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, bookID, AggregateTypeBook, SourceBookService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if userID := logger.UserIDFromContext(ctx); userID != "" {
		event.WithMetadata("user_id", userID)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published book event",
		slog.String("topic", topic),
		slog.String("book_id", bookID),
	)
	return nil
}

func bookData(b *domain.Book) BookData {
	return BookData{
		ID:       b.ID,
		UserID:   b.UserID,
		Title:    b.Title,
		Author:   b.Author,
		Year:     b.Year,
		Genre:    b.Genre,
		ImageURL: b.ImageURL,
	}
}

// Noop discards every event. It is used when Kafka is disabled.
type Noop struct{}

func (Noop) PublishBookCreated(context.Context, *domain.Book) error { return nil }
func (Noop) PublishBookUpdated(context.Context, *domain.Book) error { return nil }
func (Noop) PublishBookDeleted(context.Context, string, string) error { return nil }
func (Noop) PublishBookRated(context.Context, *domain.Book, domain.Rating) error { return nil }
