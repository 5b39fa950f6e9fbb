package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Environment identifies the running process in every request event.
type Environment struct {
	Service  string
	Version  string
	Commit   string
	Region   string
	Instance string
}

type ctxKey struct{}

type RequestFields struct {
	mu     sync.Mutex
	fields map[string]any
}

func NewJSONLogger(level slog.Level) *slog.Logger {
	return NewJSONLoggerTo(os.Stdout, level)
}

func NewJSONLoggerTo(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// Middleware emits one http_request event per request. Handlers enrich it
// with AddField. Probe and scrape paths log at debug.
func Middleware(logger *slog.Logger, env Environment) func(http.Handler) http.Handler {
	quiet := map[string]struct{}{"/healthz": {}, "/metrics": {}}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = randomRequestID()
			}
			w.Header().Set("X-Request-ID", reqID)
			fields := &RequestFields{fields: map[string]any{}}
			ctx := context.WithValue(r.Context(), ctxKey{}, fields)
			r = r.WithContext(ctx)

			ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			panicVal := any(nil)

			func() {
				defer func() {
					if recovered := recover(); recovered != nil {
						panicVal = recovered
						ww.statusCode = http.StatusInternalServerError
						http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
						AddField(r.Context(), "panic", true)
						AddField(r.Context(), "stack", string(debug.Stack()))
					}
				}()
				next.ServeHTTP(ww, r)
			}()

			outcome := "success"
			if ww.statusCode >= 500 {
				outcome = "error"
			}
			attrs := []slog.Attr{
				slog.String("service", env.Service),
				slog.String("version", env.Version),
				slog.String("commit", env.Commit),
				slog.String("region", env.Region),
				slog.String("instance", env.Instance),
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
				slog.Int("status_code", ww.statusCode),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int("response_size", ww.bytes),
				slog.String("outcome", outcome),
			}
			extra := snapshotFields(fields)
			keys := make([]string, 0, len(extra))
			for k := range extra {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, extra[k]))
			}

			level := slog.LevelInfo
			if _, ok := quiet[r.URL.Path]; ok && outcome == "success" {
				level = slog.LevelDebug
			}
			logger.LogAttrs(r.Context(), level, "http_request", slog.Attr{Key: "event", Value: slog.GroupValue(attrs...)})

			if panicVal != nil {
				panic(panicVal)
			}
		})
	}
}

func AddField(ctx context.Context, key string, value any) {
	fields, ok := ctx.Value(ctxKey{}).(*RequestFields)
	if !ok || fields == nil {
		return
	}
	fields.mu.Lock()
	defer fields.mu.Unlock()
	fields.fields[key] = value
}

func snapshotFields(fields *RequestFields) map[string]any {
	if fields == nil {
		return nil
	}
	fields.mu.Lock()
	defer fields.mu.Unlock()
	out := make(map[string]any, len(fields.fields))
	for k, v := range fields.fields {
		out[k] = v
	}
	return out
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func randomRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(buf)
}
