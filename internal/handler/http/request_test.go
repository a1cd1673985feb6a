package http

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/validator"
)

func TestFlexibleInt(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{`1862`, 1862, false},
		{`"1862"`, 1862, false},
		{`""`, 0, false},
		{`"abc"`, 0, true},
		{`4.5`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n flexibleInt
			err := json.Unmarshal([]byte(tt.in), &n)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, int(n))
		})
	}
}

func TestCreateBookRequest_UsesFirstGrade(t *testing.T) {
	var req CreateBookRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"userId": "someone-else",
		"title": "Dune",
		"author": "Frank Herbert",
		"year": 1965,
		"genre": "SF",
		"ratings": [{"userId": "x", "grade": 4}, {"userId": "y", "grade": 1}],
		"averageRating": 2.5
	}`), &req))

	input := req.toInput()
	assert.Equal(t, 4, input.Grade)
	assert.Equal(t, 1965, input.Year)
	assert.Equal(t, "Dune", input.Title)
}

func TestUpdateBookRequest_KeepsAbsentFieldsNil(t *testing.T) {
	var req UpdateBookRequest
	require.NoError(t, json.Unmarshal([]byte(`{"year":"2001"}`), &req))

	input := req.toInput()
	require.NotNil(t, input.Year)
	assert.Equal(t, 2001, *input.Year)
	assert.Nil(t, input.Title)
	assert.Nil(t, input.Author)
	assert.Nil(t, input.Genre)
}

func TestRatingRequest_Alias(t *testing.T) {
	tests := []struct {
		body   string
		want   int
		wantOK bool
	}{
		{`{"rating":3}`, 3, true},
		{`{"grade":2}`, 2, true},
		{`{"rating":0,"grade":5}`, 0, true},
		{`{"userId":"u"}`, 0, false},
	}

	for _, tt := range tests {
		var req RatingRequest
		err := decodeRequest(strings.NewReader(tt.body), &req, "invalid request body")
		if !tt.wantOK {
			var valErr *validator.ValidationError
			require.ErrorAs(t, err, &valErr, tt.body)
			assert.Equal(t, "is required", valErr.Fields()["rating"], tt.body)
			continue
		}
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, req.value(), tt.body)
	}
}

func TestDecodeRequest_MalformedIsInvalidInput(t *testing.T) {
	var req RatingRequest
	err := decodeRequest(strings.NewReader(`{"rating":"five"}`), &req, "invalid request body")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "invalid request body")
}

func TestUpdateBookRequest_Validation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"absent fields", `{}`, ""},
		{"year only", `{"year":"1954"}`, ""},
		{"empty title passes to merge", `{"title":""}`, ""},
		{"title too long", `{"title":"` + strings.Repeat("x", 256) + `"}`, "title"},
		{"year out of range", `{"year":12000}`, "year"},
		{"negative year", `{"year":-1}`, "year"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req UpdateBookRequest
			err := decodeRequest(strings.NewReader(tt.body), &req, "invalid request body")
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var valErr *validator.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Contains(t, valErr.Fields(), tt.wantField)
		})
	}
}
