package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/fjod/storefront/internal/auth"
)

// InjectLogger puts lg, tagged with the chi request id, into the request
// context. Must run after middleware.RequestID.
func InjectLogger(lg *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := zctx.Base(r.Context(), lg)
			if id := middleware.GetReqID(ctx); id != "" {
				ctx = zctx.With(ctx, zap.String("request_id", id))
				w.Header().Set(middleware.RequestIDHeader, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recovery turns panics into a logged 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zctx.From(r.Context()).Error("Panic recovered",
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				w.Header().Set("Connection", "close")
				respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zctx.From(r.Context()).Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Authenticate resolves the session token from the Authorization header or
// the session cookie. Requests without a valid token pass through as
// anonymous; handlers decide whether that is acceptable.
func Authenticate(verifier *auth.Verifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(cookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			userID, err := verifier.Verify(token)
			if err != nil {
				zctx.From(ctx).Debug("Ignoring invalid session token", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			ctx = auth.WithUser(ctx, userID)
			ctx = zctx.With(ctx, zap.String("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
