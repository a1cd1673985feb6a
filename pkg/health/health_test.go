package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.HandlerFunc) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler()
	h.Register("postgres", func(context.Context) error { return errors.New("down") })

	code, resp := serve(t, h.LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Empty(t, resp.Checks)
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Checker
		wantStatus int
		want       Status
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: http.StatusOK,
			want:       StatusUp,
		},
		{
			name: "all healthy",
			checks: map[string]Checker{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			want:       StatusUp,
		},
		{
			name: "one down",
			checks: map[string]Checker{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
			want:       StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for name, c := range tt.checks {
				h.Register(name, c)
			}

			code, resp := serve(t, h.ReadinessHandler())
			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestReadinessHandler_ReportsError(t *testing.T) {
	h := NewHandler()
	h.Register("kafka", func(context.Context) error { return errors.New("no brokers") })

	_, resp := serve(t, h.ReadinessHandler())
	assert.Equal(t, StatusDown, resp.Checks["kafka"].Status)
	assert.Equal(t, "no brokers", resp.Checks["kafka"].Error)
}

func TestReadinessHandler_Timeout(t *testing.T) {
	h := NewHandler()
	h.timeout = 20 * time.Millisecond
	h.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	code, resp := serve(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["slow"].Error)
}
