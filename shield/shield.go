// Package shield holds the HTTP middleware every accesspdf route runs behind:
// HEAD handling, security headers, a request body cap, a per-request trace ID
// and logger, and one-shot flash messages.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.StackConfig{MaxBodyBytes: 50 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/accesspdf/idgen"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// FlashKey is the context key for flash messages.
	FlashKey contextKey = "shield_flash"
)

// FlashMessage is a one-time notification shown on the next page.
type FlashMessage struct {
	Type    string // "success" or "error"
	Message string
}

// GetFlash returns the flash message carried by ctx, or nil.
func GetFlash(ctx context.Context) *FlashMessage {
	v, _ := ctx.Value(FlashKey).(*FlashMessage)
	return v
}

// StackConfig parameterises DefaultStack.
type StackConfig struct {
	// MaxBodyBytes caps request bodies. Zero disables the cap.
	MaxBodyBytes int64
	Headers      HeaderConfig
	Logger       *slog.Logger
	RequestIDs   idgen.Generator
}

// DefaultStack returns the middleware in order:
// HeadToGet, SecurityHeaders, MaxBody, TraceID, Flash.
func DefaultStack(cfg StackConfig) []func(http.Handler) http.Handler {
	if cfg.Headers == (HeaderConfig{}) {
		cfg.Headers = DefaultHeaders()
	}
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(cfg.Headers),
		MaxBody(cfg.MaxBodyBytes),
		TraceID(cfg.Logger, cfg.RequestIDs),
		Flash,
	}
}

// HeadToGet serves HEAD through GET routes; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
