package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository"
	memrepo "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository/memory"
	pgrepo "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/repository/postgres"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/service"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/storage/local"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/health"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/httputil"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/middleware"
)

const baseURL = "http://localhost:4000/booksImages"

// testTokens maps "token-<user>" to <user>.
func testTokens(token string) (string, error) {
	user, ok := strings.CutPrefix(token, "token-")
	if !ok || user == "" {
		return "", errors.New("bad token")
	}
	return user, nil
}

type testServer struct {
	handler http.Handler
	store   *local.Storage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithRepo(t, memrepo.NewBookRepository())
}

func newTestServerWithRepo(t *testing.T, repo repository.BookRepository) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := local.New(t.TempDir(), baseURL)
	require.NoError(t, err)

	svc := service.NewBookService(repo, store, nil, nil, logger)
	reg := prometheus.NewRegistry()

	h := NewRouter(RouterConfig{
		BookService:   svc,
		HealthHandler: health.NewHandler(),
		ValidateToken: testTokens,
		Metrics:       middleware.NewHTTPMetrics(reg, "book"),
		Gatherer:      reg,
		CORS:          middleware.DefaultCORSConfig(),
		ImageDir:      store.Dir(),
		ImagePath:     "/booksImages",
		Logger:        logger,
	})
	return &testServer{handler: h, store: store}
}

func (s *testServer) do(req *http.Request, user string) *httptest.ResponseRecorder {
	if user != "" {
		req.Header.Set("Authorization", "Bearer token-"+user)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

// multipartBody builds a multipart body with a "book" JSON field and, when
// imageType is set, an "image" part.
func multipartBody(t *testing.T, book any, imageType string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if book != nil {
		data, err := json.Marshal(book)
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("book", string(data)))
	}

	if imageType != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="cover"`)
		h.Set("Content-Type", imageType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func bookPayload(grade int) map[string]any {
	return map[string]any{
		"userId":  "spoofed",
		"title":   "Les Misérables",
		"author":  "Victor Hugo",
		"year":    1862,
		"genre":   "Roman",
		"ratings": []map[string]any{{"userId": "spoofed", "grade": grade}},
	}
}

func (s *testServer) createBook(t *testing.T, user string, grade int) string {
	t.Helper()
	body, ct := multipartBody(t, bookPayload(grade), "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/books", body)
	req.Header.Set("Content-Type", ct)

	rr := s.do(req, user)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp httputil.MessageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func (s *testServer) getBook(t *testing.T, id string) domain.Book {
	t.Helper()
	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/books/"+id, nil), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var b domain.Book
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &b))
	return b
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

// --- List / Get ---

func TestListBooks_Empty(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/books", nil), "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestGetBook_NotFound(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/books/missing", nil), "")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeErrorCode(t, rr))
}

func TestListBooks_PersistenceFailureIsBadRequest(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("SELECT b.id").WillReturnError(errors.New("connection refused"))
	s := newTestServerWithRepo(t, pgrepo.NewBookRepository(pool))

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/books", nil), "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "PERSISTENCE_FAILURE", decodeErrorCode(t, rr))
	assert.NotContains(t, rr.Body.String(), "connection refused")
	assert.NoError(t, pool.ExpectationsWereMet())
}

// --- Create ---

func TestCreateBook_Success(t *testing.T) {
	s := newTestServer(t)

	id := s.createBook(t, "alice", 4)
	b := s.getBook(t, id)

	assert.Equal(t, "alice", b.UserID)
	assert.Equal(t, "Les Misérables", b.Title)
	assert.Equal(t, 1862, b.Year)
	assert.True(t, strings.HasPrefix(b.ImageURL, baseURL+"/"))
	assert.True(t, strings.HasSuffix(b.ImageURL, ".png"))
	assert.Equal(t, []domain.Rating{{UserID: "alice", Grade: 4}}, b.Ratings)
	assert.Equal(t, 4.0, b.AverageRating)

	list := s.do(httptest.NewRequest(http.MethodGet, "/api/books", nil), "")
	var books []domain.Book
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &books))
	assert.Len(t, books, 1)
}

func TestCreateBook_YearAsString(t *testing.T) {
	s := newTestServer(t)
	payload := bookPayload(0)
	payload["year"] = "1862"
	payload["ratings"] = []map[string]any{{"userId": "", "grade": "0"}}

	body, ct := multipartBody(t, payload, "image/jpeg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/api/books", body)
	req.Header.Set("Content-Type", ct)

	rr := s.do(req, "alice")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestCreateBook_Errors(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		build      func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name: "no token",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, bookPayload(0), "image/png", []byte("png"))
				req := httptest.NewRequest(http.MethodPost, "/api/books", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name: "missing image",
			user: "alice",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, bookPayload(0), "", nil)
				req := httptest.NewRequest(http.MethodPost, "/api/books", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name: "missing book field",
			user: "alice",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, nil, "image/png", []byte("png"))
				req := httptest.NewRequest(http.MethodPost, "/api/books", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name: "unsupported image type",
			user: "alice",
			build: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, bookPayload(0), "application/pdf", []byte("%PDF"))
				req := httptest.NewRequest(http.MethodPost, "/api/books", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name: "missing title",
			user: "alice",
			build: func(t *testing.T) *http.Request {
				payload := bookPayload(0)
				delete(payload, "title")
				body, ct := multipartBody(t, payload, "image/png", []byte("png"))
				req := httptest.NewRequest(http.MethodPost, "/api/books", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "json body",
			user: "alice",
			build: func(*testing.T) *http.Request {
				return jsonRequest(http.MethodPost, "/api/books", `{"title":"x"}`)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name: "unsupported content type",
			user: "alice",
			build: func(*testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/books", strings.NewReader("title=x"))
				req.Header.Set("Content-Type", "text/plain")
				return req
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   "UNSUPPORTED_MEDIA_TYPE",
		},
		{
			name: "unsupported content type without token",
			build: func(*testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/books", strings.NewReader("title=x"))
				req.Header.Set("Content-Type", "text/plain")
				return req
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rr := s.do(tt.build(t), tt.user)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantCode, decodeErrorCode(t, rr))
		})
	}
}

// --- Update ---

func TestUpdateBook_JSON(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t, "alice", 0)

	rr := s.do(jsonRequest(http.MethodPut, "/api/books/"+id, `{"title":"Notre-Dame de Paris","year":"1831"}`), "alice")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	b := s.getBook(t, id)
	assert.Equal(t, "Notre-Dame de Paris", b.Title)
	assert.Equal(t, 1831, b.Year)
	assert.Equal(t, "Victor Hugo", b.Author)
}

func TestUpdateBook_MultipartReplacesImage(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t, "alice", 0)
	before := s.getBook(t, id)

	body, ct := multipartBody(t, map[string]any{"genre": "Classique"}, "image/jpeg", []byte("new-cover"))
	req := httptest.NewRequest(http.MethodPut, "/api/books/"+id, body)
	req.Header.Set("Content-Type", ct)

	rr := s.do(req, "alice")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	after := s.getBook(t, id)
	assert.Equal(t, "Classique", after.Genre)
	assert.NotEqual(t, before.ImageURL, after.ImageURL)
	assert.True(t, strings.HasSuffix(after.ImageURL, ".jpg"))

	old := s.do(httptest.NewRequest(http.MethodGet, strings.TrimPrefix(before.ImageURL, "http://localhost:4000"), nil), "")
	assert.Equal(t, http.StatusNotFound, old.Code)
}

func TestUpdateBook_NonOwner(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t, "alice", 0)

	rr := s.do(jsonRequest(http.MethodPut, "/api/books/"+id, `{"title":"hijacked"}`), "mallory")

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", decodeErrorCode(t, rr))
	assert.Equal(t, "Les Misérables", s.getBook(t, id).Title)
}

func TestUpdateBook_MalformedJSON(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t, "alice", 0)

	rr := s.do(jsonRequest(http.MethodPut, "/api/books/"+id, `{"title":`), "alice")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- Delete ---

func TestDeleteBook(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t, "alice", 0)
	imageURL := s.getBook(t, id).ImageURL
	imagePath := strings.TrimPrefix(imageURL, "http://localhost:4000")

	rr := s.do(httptest.NewRequest(http.MethodDelete, "/api/books/"+id, nil), "mallory")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(httptest.NewRequest(http.MethodDelete, "/api/books/"+id, nil), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	img := s.do(httptest.NewRequest(http.MethodGet, imagePath, nil), "")
	assert.Equal(t, http.StatusOK, img.Code)

	rr = s.do(httptest.NewRequest(http.MethodDelete, "/api/books/"+id, nil), "alice")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/books/"+id, nil), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	img = s.do(httptest.NewRequest(http.MethodGet, imagePath, nil), "")
	assert.Equal(t, http.StatusNotFound, img.Code)
}

// --- Rating ---

func TestRateBook(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t, "alice", 5)

	rr := s.do(jsonRequest(http.MethodPost, "/api/books/"+id+"/rating", `{"userId":"spoofed","rating":2}`), "bob")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var b domain.Book
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &b))
	assert.Equal(t, 3.5, b.AverageRating)
	assert.Equal(t, domain.Rating{UserID: "bob", Grade: 2}, b.Ratings[1])

	rr = s.do(jsonRequest(http.MethodPost, "/api/books/"+id+"/rating", `{"grade":4}`), "carol")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 3.7, s.getBook(t, id).AverageRating)
}

func TestRateBook_Errors(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		body       string
		wantStatus int
	}{
		{"duplicate", "alice", `{"rating":1}`, http.StatusConflict},
		{"too high", "bob", `{"rating":6}`, http.StatusBadRequest},
		{"negative", "bob", `{"rating":-1}`, http.StatusBadRequest},
		{"missing", "bob", `{}`, http.StatusBadRequest},
		{"not a number", "bob", `{"rating":"five"}`, http.StatusBadRequest},
		{"anonymous", "", `{"rating":3}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			id := s.createBook(t, "alice", 5)

			rr := s.do(jsonRequest(http.MethodPost, "/api/books/"+id+"/rating", tt.body), tt.user)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			b := s.getBook(t, id)
			assert.Len(t, b.Ratings, 1)
			assert.Equal(t, 5.0, b.AverageRating)
		})
	}
}

func TestRateBook_UnknownBook(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(jsonRequest(http.MethodPost, "/api/books/missing/rating", `{"rating":3}`), "bob")

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// --- Best rating ---

func TestTopRated(t *testing.T) {
	s := newTestServer(t)
	low := s.createBook(t, "alice", 1)
	high := s.createBook(t, "alice", 5)
	mid := s.createBook(t, "alice", 3)
	s.createBook(t, "alice", 2)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/books/bestrating", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)

	var books []domain.Book
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &books))
	require.Len(t, books, 3)
	assert.Equal(t, high, books[0].ID)
	assert.Equal(t, mid, books[1].ID)
	assert.NotEqual(t, low, books[2].ID)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/books/bestrating?limit=10", nil), "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &books))
	assert.Len(t, books, 4)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/books/bestrating?limit=zero", nil), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- Ambient endpoints ---

func TestAmbientEndpoints(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(httptest.NewRequest(http.MethodGet, "/health/live", nil), "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil), "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/books", nil), "")
	assert.NotEmpty(t, rr.Header().Get(middleware.CorrelationIDHeader))
}

func TestServesImagesWithCacheHeader(t *testing.T) {
	s := newTestServer(t)
	id := s.createBook(t, "alice", 0)
	path := strings.TrimPrefix(s.getBook(t, id).ImageURL, "http://localhost:4000")

	rr := s.do(httptest.NewRequest(http.MethodGet, path, nil), "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "png-bytes", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Cache-Control"), "max-age=")
}
