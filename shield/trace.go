package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/accesspdf/horosafe"
	"github.com/hazyhaar/accesspdf/idgen"
	"github.com/hazyhaar/accesspdf/kit"
)

// TraceID tags each request with an ID (ULID unless gen is set). The ID goes
// into the context under kit's trace key, the X-Trace-ID response header and
// a per-request logger derived from base (slog.Default when nil). A valid
// client X-Request-ID is kept as the request ID; otherwise the trace ID is
// used. The request is logged once on completion with status and duration.
func TraceID(base *slog.Logger, gen idgen.Generator) func(http.Handler) http.Handler {
	if gen == nil {
		gen = idgen.ULID()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base
			if logger == nil {
				logger = slog.Default()
			}
			traceID := gen()

			reqID := r.Header.Get("X-Request-ID")
			if horosafe.ValidateIdentifier(reqID) != nil {
				reqID = traceID
			}

			ctx := kit.WithTransport(r.Context(), "http")
			ctx = kit.WithTraceID(ctx, traceID)
			ctx = kit.WithRequestID(ctx, reqID)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			w.Header().Set("X-Trace-ID", traceID)

			logger = logger.With(
				"trace_id", traceID,
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			logger.Info("request",
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default outside a request.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
