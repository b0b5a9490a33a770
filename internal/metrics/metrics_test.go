package metrics

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "issuemirror.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordItems("o/r", "new", 3)
	m.RecordItems("o/r", "new", 0)
	m.RecordMove("o/r", "done")
	m.RecordFailure("o/r", "write")
	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)
	m.ObserveSync("o/r", 1.5, 1700000000, 12)

	out := scrape(t, m)
	assert.Contains(t, out, `issuemirror_items_total{collection="o/r",partition="new"} 3`)
	assert.Contains(t, out, `issuemirror_moves_total{collection="o/r",to="done"} 1`)
	assert.Contains(t, out, `issuemirror_failures_total{collection="o/r",op="write"} 1`)
	assert.Contains(t, out, `issuemirror_cache_requests_total{result="miss"} 2`)
	assert.Contains(t, out, `issuemirror_ledger_entries{collection="o/r"} 12`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordItems("c", "new", 1)
		m.RecordMove("c", "done")
		m.RecordFailure("c", "write")
		m.RecordCache(true)
		m.RecordUpstream("issues", "ok")
		m.ObserveSync("c", 1, 1, 1)
	})
}

func TestHandlerAndTextfile(t *testing.T) {
	m := New()
	m.RecordMove("o/r", "todo")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "issuemirror_moves_total")

	assert.Contains(t, scrape(t, m), `issuemirror_moves_total{collection="o/r",to="todo"} 1`)
}
