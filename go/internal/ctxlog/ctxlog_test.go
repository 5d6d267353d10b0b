package ctxlog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom_FallsBackToGlobal(t *testing.T) {
	l := ctxlog.From(context.Background())
	require.NotNil(t, l)
}

func TestWith_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := base.WithContext(context.Background())

	ctx = ctxlog.WithRequestID(ctx, "req-1")
	ctx = ctxlog.Component(ctx, "redis")
	ctxlog.From(ctx).Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "redis", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		validate func(t *testing.T, got string)
	}{
		{
			name: "generates id",
			validate: func(t *testing.T, got string) {
				assert.Len(t, got, 36)
			},
		},
		{
			name:     "keeps caller id",
			incoming: "abc",
			validate: func(t *testing.T, got string) {
				assert.Equal(t, "abc", got)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sawLogger bool
			h := ctxlog.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sawLogger = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(ctxlog.RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.True(t, sawLogger)
			tt.validate(t, rec.Header().Get(ctxlog.RequestIDHeader))
		})
	}
}
