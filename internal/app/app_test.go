package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/auth"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/config"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/httputil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:        "test",
		LogLevel:           "error",
		HTTPPort:           4000,
		CORSAllowedOrigins: []string{"*"},
		StoreDriver:        config.StoreDriverMemory,
		JWTSecret:          "test-secret",
		JWTIssuer:          "grimoire",
		JWTExpiry:          time.Hour,
		ImageDir:           t.TempDir(),
		ImagePath:          "/booksImages",
		BestRatingCacheTTL: time.Minute,
		OTelSampleRate:     1,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := NewApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.closeResources(context.Background()) })
	return a
}

func createBookRequest(t *testing.T, url, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("book", `{"title":"Dune","author":"Frank Herbert","year":1965,"genre":"SF","ratings":[{"grade":5}]}`))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="dune.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url+"/api/books", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestApp_EndToEndWithMemoryStore(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	token, err := auth.NewJWTManager(cfg.JWTSecret, time.Hour, cfg.JWTIssuer).GenerateAccessToken("alice")
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(createBookRequest(t, srv.URL, token))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created httputil.MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	getResp, err := http.Get(srv.URL + "/api/books/bestrating")
	require.NoError(t, err)
	defer getResp.Body.Close()

	var books []domain.Book
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&books))
	require.Len(t, books, 1)
	assert.Equal(t, created.ID, books[0].ID)
	assert.Equal(t, "alice", books[0].UserID)
	assert.Equal(t, 5.0, books[0].AverageRating)
	assert.Contains(t, books[0].ImageURL, "http://localhost:4000/booksImages/")
}

func TestApp_RejectsForeignTokens(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	token, err := auth.NewJWTManager("another-secret", time.Hour, "grimoire").GenerateAccessToken("alice")
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(createBookRequest(t, srv.URL, token))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestApp_RedisCacheIsReady(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = mustPort(t, mr.Port())

	a := newTestApp(t, cfg)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/books/bestrating")
	require.NoError(t, err)
	defer listResp.Body.Close()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	assert.True(t, mr.Exists("books:bestrating:3"))
}

func TestApp_FailsWhenRedisIsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisEnabled = true
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = mustPort(t, mr.Port())
	mr.Close()

	_, err := NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func mustPort(t *testing.T, port string) int {
	t.Helper()
	var p int
	_, err := fmt.Sscan(port, &p)
	require.NoError(t, err)
	return p
}
