package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLivenessHandler(t *testing.T) {
	handler := LivenessHandler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func fixed(s Status) CheckFunc {
	return func(context.Context) Status { return s }
}

func TestChecker_IsReady(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   bool
	}{
		{"no checks", nil, true},
		{"all ok", map[string]Status{"sync": StatusOK, "history": StatusOK}, true},
		{"degraded is ready", map[string]Status{"sync": StatusDegraded}, true},
		{"one down", map[string]Status{"sync": StatusOK, "history": StatusDown}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(zerolog.Nop())
			for name, s := range tt.checks {
				c.Register(name, fixed(s))
			}
			assert.Equal(t, tt.want, c.IsReady(context.Background()))
		})
	}
}

func TestChecker_RunAllReportsEveryCheck(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("sync", fixed(StatusDegraded))
	c.Register("history", fixed(StatusOK))

	assert.Equal(t, map[string]Status{"sync": StatusDegraded, "history": StatusOK}, c.RunAll(context.Background()))
}

func TestReadinessHandler_Healthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("sync", fixed(StatusOK))

	handler := c.ReadinessHandler()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ready")
}

func TestReadinessHandler_NotReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("sync", fixed(StatusDown))

	handler := c.ReadinessHandler()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")
}

func TestPassTracker(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewPassTracker(time.Hour, 2)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, StatusDegraded, p.Check(ctx), "no pass yet")

	p.Observe(nil)
	assert.Equal(t, StatusOK, p.Check(ctx))

	p.Observe(errors.New("rate limited"))
	assert.Equal(t, StatusDegraded, p.Check(ctx))

	p.Observe(errors.New("rate limited"))
	assert.Equal(t, StatusDown, p.Check(ctx))

	p.Observe(nil)
	assert.Equal(t, StatusOK, p.Check(ctx))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, StatusDown, p.Check(ctx), "stale")
}

func TestPassTracker_FirstPassFailed(t *testing.T) {
	p := NewPassTracker(time.Hour, 3)
	p.Observe(errors.New("boom"))
	assert.Equal(t, StatusDegraded, p.Check(context.Background()))
}

func TestReadinessHandler_WithPassTracker(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	p := NewPassTracker(time.Hour, 1)
	c.Register("sync", p.Check)
	p.Observe(errors.New("boom"))

	rr := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
