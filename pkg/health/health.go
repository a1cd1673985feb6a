package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/httputil"
)

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Status is the health of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

const defaultCheckTimeout = 5 * time.Second

// Response is the body returned by the health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Handler serves liveness and readiness endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
}

// NewHandler creates a handler with no registered checks.
func NewHandler() *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		timeout:  defaultCheckTimeout,
	}
}

// Register adds or replaces a named readiness check.
func (h *Handler) Register(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// LivenessHandler answers 200 while the process is running.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: time.Now().UTC(),
		})
	}
}

// ReadinessHandler runs every registered check concurrently and answers 200
// when all pass, 503 otherwise.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		h.mu.RLock()
		checkers := make(map[string]Checker, len(h.checkers))
		for name, c := range h.checkers {
			checkers[name] = c
		}
		h.mu.RUnlock()

		var (
			mu     sync.Mutex
			wg     sync.WaitGroup
			checks = make(map[string]CheckResult, len(checkers))
		)
		for name, check := range checkers {
			wg.Add(1)
			go func(name string, check Checker) {
				defer wg.Done()
				start := time.Now()
				res := CheckResult{Status: StatusUp}
				if err := check(ctx); err != nil {
					res = CheckResult{Status: StatusDown, Error: err.Error()}
				}
				res.Duration = time.Since(start).String()

				mu.Lock()
				checks[name] = res
				mu.Unlock()
			}(name, check)
		}
		wg.Wait()

		overall := StatusUp
		for _, res := range checks {
			if res.Status == StatusDown {
				overall = StatusDown
				break
			}
		}

		status := http.StatusOK
		if overall == StatusDown {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, Response{
			Status:    overall,
			Timestamp: time.Now().UTC(),
			Checks:    checks,
		})
	}
}
