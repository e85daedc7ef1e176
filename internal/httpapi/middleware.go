package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opsgate.io/internal/audit"
	"opsgate.io/internal/auth"
	"opsgate.io/internal/ratelimit"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with an identifier, honoring one supplied by
// a trusted proxy, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		ctx = audit.WithRequestID(ctx, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext extracts the request id, empty when absent.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// logRequests emits one structured entry per request.
func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		a.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.code),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestIDFromContext(r.Context())),
		)
	})
}

// SecurityHeaders sets response hardening headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes limits request body size.
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// rateLimit spends one unit of the caller's category budget per request. It
// runs ahead of authentication: requests carrying bad credentials still count
// against the key, and a blocked key is denied before any store lookup.
func (a *API) rateLimit(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		category, limited := categoryFor(r.URL.Path)
		if !limited {
			next.ServeHTTP(w, r)
			return
		}

		key := a.rateLimitKey(r)
		if key == "" {
			key = "unknown"
		}

		res, err := a.limiter.Consume(r.Context(), key, category)
		if err != nil {
			a.log.Error("rate limit store failure",
				zap.String("category", string(category)),
				zap.String("fail_mode", a.limiter.FailMode().String()),
				zap.Error(err))
			if !res.Allowed {
				writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retry := int(res.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitKey picks the counter key: the account id when the request carries
// a verifiable bearer token, the client IP otherwise. Token verification here
// is a pure signature check; invalid or absent credentials fall back to the
// IP so they are still counted.
func (a *API) rateLimitKey(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return id.ID
	}
	if h := r.Header.Get(authHeader); h != "" {
		if token, err := extractBearerToken(h); err == nil {
			if id, err := a.auth.Authenticate(r.Context(), token); err == nil {
				return id.ID
			}
		}
	}
	return clientIP(r)
}

// categoryFor maps a request path to its budget category. Probe and metrics
// endpoints are never limited.
func categoryFor(path string) (ratelimit.Category, bool) {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return "", false
	}
	switch {
	case strings.HasPrefix(path, "/v1/auth/"):
		return ratelimit.CategoryAuth, true
	case strings.HasPrefix(path, "/v1/ai/"):
		return ratelimit.CategoryAI, true
	case strings.HasPrefix(path, "/v1/admin/"):
		return ratelimit.CategoryAdmin, true
	default:
		return ratelimit.CategoryAPI, true
	}
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For support (first IP)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
