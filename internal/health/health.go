// Package health provides liveness and readiness endpoints for watch mode.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// checkTimeout bounds a single check.
const checkTimeout = 5 * time.Second

// Checker runs named checks for the readiness endpoint.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	logger zerolog.Logger
}

// NewChecker returns a Checker with no checks; it reports ready.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll runs every check concurrently, each under its own timeout.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Status, len(c.checks))
	)
	for name, fn := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			s := fn(checkCtx)
			mu.Lock()
			results[name] = s
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// IsReady reports whether no check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return ready(c.RunAll(ctx))
}

func ready(results map[string]Status) bool {
	for _, s := range results {
		if s == StatusDown {
			return false
		}
	}
	return true
}

// readiness is the /ready response body.
type readiness struct {
	Status string            `json:"status"`
	Checks map[string]Status `json:"checks"`
}

// LivenessHandler answers /health: the process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler answers /ready with 200 unless a check is down.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.RunAll(r.Context())
		if ready(results) {
			writeJSON(w, http.StatusOK, readiness{Status: "ready", Checks: results})
			return
		}
		c.logger.Warn().Interface("checks", results).Msg("not ready")
		writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "not_ready", Checks: results})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// PassTracker turns the outcomes of recurring sync passes into a health
// check. It is safe for concurrent use.
type PassTracker struct {
	maxAge      time.Duration
	maxFailures int
	now         func() time.Time

	mu       sync.Mutex
	started  bool
	lastOK   time.Time
	failures int
}

// NewPassTracker reports down once no pass has succeeded for maxAge, or
// after maxFailures consecutive failures.
func NewPassTracker(maxAge time.Duration, maxFailures int) *PassTracker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &PassTracker{maxAge: maxAge, maxFailures: maxFailures, now: time.Now}
}

// Observe records the outcome of one pass.
func (p *PassTracker) Observe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	if err != nil {
		p.failures++
		return
	}
	p.failures = 0
	p.lastOK = p.now()
}

// Check implements CheckFunc. Before the first pass completes the mirror is
// degraded, not down.
func (p *PassTracker) Check(_ context.Context) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case !p.started:
		return StatusDegraded
	case p.failures >= p.maxFailures:
		return StatusDown
	case p.lastOK.IsZero():
		return StatusDegraded
	case p.maxAge > 0 && p.now().Sub(p.lastOK) > p.maxAge:
		return StatusDown
	case p.failures > 0:
		return StatusDegraded
	}
	return StatusOK
}
