package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/auth"
	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/ratelimit"
)

const (
	headerAPIKey        = "X-Api-Key"
	headerAuthorization = "Authorization"

	limiterPlan = "plan"
	limiterIP   = "ip"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the tenant attached by the API key middleware.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

// Middlewares is the chain every public request goes through.
func Middlewares(logger zerolog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID,
		AccessLog(logger),
		middleware.Recoverer,
	}
}

var quietPaths = map[string]struct{}{
	"/_/ready": {},
	"/healthz": {},
	"/metrics": {},
}

// AccessLog writes one line per request. Health probes are skipped.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "access_log").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := quietPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", ratelimit.ClientIP(r)).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

func (h *Handler) admit(limiter Admitter, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := limiter.Admit(r.Context(), ratelimit.Request{
				APIKey:        r.Header.Get(headerAPIKey),
				Authorization: r.Header.Get(headerAuthorization),
				ClientIP:      ratelimit.ClientIP(r),
			})
			if err != nil {
				var apiErr apierror.Error
				if errors.As(err, &apiErr) && apiErr.Code == apierror.CodeRateLimitExceeded {
					h.metrics.RateLimited(name)
				}
				h.error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.resolver.Resolve(r.Context(), r.Header.Get(headerAPIKey))
		if err != nil {
			h.error(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

func (h *Handler) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(headerAuthorization)
		if header == "" {
			h.error(w, r, apierror.Forbidden("Missing Authorization header"))
			return
		}
		token, ok := auth.BearerToken(header)
		if !ok {
			h.error(w, r, apierror.Forbidden("Invalid authorization header format"))
			return
		}
		if !h.tokens.Validate(token) {
			h.error(w, r, apierror.Forbidden("Invalid secret token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
