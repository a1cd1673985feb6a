package domain

import (
	"math"
	"time"
)

// Grade bounds for a single rating.
const (
	MinGrade = 0
	MaxGrade = 5
)

// MaxImageSize is the largest accepted cover image in bytes (10 MB).
const MaxImageSize int64 = 10 * 1024 * 1024

// AllowedImageTypes lists the accepted cover image content types and the
// file extension stored for each.
var AllowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// IsAllowedImageType reports whether contentType is an accepted cover format.
func IsAllowedImageType(contentType string) bool {
	_, ok := AllowedImageTypes[contentType]
	return ok
}

// Rating is a single user's grade for a book.
type Rating struct {
	UserID string `json:"userId"`
	Grade  int    `json:"grade"`
}

// Book is a catalog entry. ImageKey is the storage handle of the cover image
// and never leaves the server.
type Book struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Year          int       `json:"year"`
	Genre         string    `json:"genre"`
	ImageURL      string    `json:"imageUrl"`
	ImageKey      string    `json:"-"`
	Ratings       []Rating  `json:"ratings"`
	AverageRating float64   `json:"averageRating"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsValidGrade reports whether g is within [MinGrade, MaxGrade].
func IsValidGrade(g int) bool {
	return g >= MinGrade && g <= MaxGrade
}

// RoundAverage rounds x to one decimal place, halves away from zero.
func RoundAverage(x float64) float64 {
	return math.Round(x*10) / 10
}

// AverageOf returns the rounded mean grade, or 0 for no ratings.
func AverageOf(ratings []Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Grade
	}
	return RoundAverage(float64(sum) / float64(len(ratings)))
}

// IsOwnedBy reports whether userID created the book.
func (b *Book) IsOwnedBy(userID string) bool {
	return userID != "" && b.UserID == userID
}

// HasRated reports whether userID already rated the book. It stops at the
// first match.
func (b *Book) HasRated(userID string) bool {
	for _, r := range b.Ratings {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AppendRating adds r and recomputes the average. It returns false, leaving
// the book untouched, when r.UserID already rated it.
func (b *Book) AppendRating(r Rating) bool {
	if b.HasRated(r.UserID) {
		return false
	}
	b.Ratings = append(b.Ratings, r)
	b.AverageRating = AverageOf(b.Ratings)
	return true
}

// RankedBefore orders books for the best-rated listing: higher average
// first, then earlier creation, then lower ID.
func RankedBefore(a, b *Book) bool {
	if a.AverageRating != b.AverageRating {
		return a.AverageRating > b.AverageRating
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Clone returns a deep copy of b.
func (b *Book) Clone() *Book {
	c := *b
	if b.Ratings != nil {
		c.Ratings = make([]Rating, len(b.Ratings))
		copy(c.Ratings, b.Ratings)
	}
	return &c
}
