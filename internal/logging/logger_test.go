package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareEmitsRequestEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, slog.LevelInfo)
	h := Middleware(logger, Environment{Service: "ecotrade-server", Version: "v1"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			AddField(r.Context(), "listing_id", "l-1")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/listings", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req_fixed", rec.Header().Get("X-Request-ID"))

	var line struct {
		Msg   string         `json:"msg"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http_request", line.Msg)
	assert.Equal(t, "ecotrade-server", line.Event["service"])
	assert.Equal(t, "req_fixed", line.Event["request_id"])
	assert.EqualValues(t, 201, line.Event["status_code"])
	assert.EqualValues(t, 2, line.Event["response_size"])
	assert.Equal(t, "l-1", line.Event["listing_id"])
	assert.Equal(t, "success", line.Event["outcome"])
}

func TestMiddlewareQuietsHealthProbes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, slog.LevelInfo)
	h := Middleware(logger, Environment{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Zero(t, buf.Len())
}

func TestMiddlewareRepanics(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, slog.LevelInfo)
	h := Middleware(logger, Environment{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.PanicsWithValue(t, "boom", func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/listings", nil))
	})
	assert.Contains(t, buf.String(), `"panic":true`)
	assert.Contains(t, buf.String(), `"outcome":"error"`)
}

func TestAddFieldWithoutRequestIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	AddField(req.Context(), "k", "v")
}
