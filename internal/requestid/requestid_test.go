package requestid

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	withID := Logger(WithRequestID(context.Background(), "abc"), base)
	withID.Info().Msg("hi")
	assert.Contains(t, buf.String(), `"request_id":"abc"`)

	buf.Reset()
	withoutID := Logger(context.Background(), base)
	withoutID.Info().Msg("hi")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"delivery wins", map[string]string{"X-GitHub-Delivery": "d-1", Header: "r-1"}, "d-1"},
		{"incoming id", map[string]string{Header: "r-1"}, "r-1"},
		{"generated", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.NotEmpty(t, seen)
			if tt.want != "" {
				assert.Equal(t, tt.want, seen)
			}
			assert.Equal(t, seen, rr.Header().Get(Header))
		})
	}
}
