package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/service"
)

// flexibleInt accepts a JSON number or a numeric string. Browser form
// clients send the publication year and grades either way.
type flexibleInt int

func (n *flexibleInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%q is not an integer", s)
		}
		*n = flexibleInt(v)
		return nil
	}

	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = flexibleInt(v)
	return nil
}

// --- Request DTOs ---

// ratingRequest is one entry of the ratings array a client may send on
// create. Only the first grade is used, as the creator's initial rating.
type ratingRequest struct {
	UserID string      `json:"userId"`
	Grade  flexibleInt `json:"grade"`
}

// CreateBookRequest is the JSON document carried in the "book" form field.
// A client-sent userId is ignored in favour of the token's.
type CreateBookRequest struct {
	UserID  string          `json:"userId"`
	Title   string          `json:"title"`
	Author  string          `json:"author"`
	Year    flexibleInt     `json:"year"`
	Genre   string          `json:"genre"`
	Ratings []ratingRequest `json:"ratings"`
}

func (req *CreateBookRequest) toInput() *service.CreateBookInput {
	input := &service.CreateBookInput{
		Title:  req.Title,
		Author: req.Author,
		Year:   int(req.Year),
		Genre:  req.Genre,
	}
	if len(req.Ratings) > 0 {
		input.Grade = int(req.Ratings[0].Grade)
	}
	return input
}

// UpdateBookRequest carries the owner-editable fields. Absent fields are
// left unchanged; ratings, averageRating and userId are not writable.
type UpdateBookRequest struct {
	Title  *string      `json:"title" validate:"omitempty,max=255"`
	Author *string      `json:"author" validate:"omitempty,max=255"`
	Year   *flexibleInt `json:"year" validate:"omitempty,gte=0,lte=9999"`
	Genre  *string      `json:"genre" validate:"omitempty,max=255"`
}

func (req *UpdateBookRequest) toInput() *service.UpdateBookInput {
	input := &service.UpdateBookInput{
		Title:  req.Title,
		Author: req.Author,
		Genre:  req.Genre,
	}
	if req.Year != nil {
		year := int(*req.Year)
		input.Year = &year
	}
	return input
}

// RatingRequest is the body of a rating submission. "grade" is accepted as
// an alias of "rating"; userId is taken from the token, never the body.
type RatingRequest struct {
	UserID string       `json:"userId"`
	Rating *flexibleInt `json:"rating" validate:"required_without=Grade"`
	Grade  *flexibleInt `json:"grade" validate:"required_without=Rating"`
}

// value returns the submitted grade, "rating" taking precedence.
func (req *RatingRequest) value() int {
	switch {
	case req.Rating != nil:
		return int(*req.Rating)
	case req.Grade != nil:
		return int(*req.Grade)
	default:
		return 0
	}
}
