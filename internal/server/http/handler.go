package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/auth"
	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/metrics"
	"github.com/leshachaplin/eventstream/internal/ratelimit"
	"github.com/leshachaplin/eventstream/internal/service"
)

type IdentityResolver interface {
	Resolve(ctx context.Context, apiKey string) (domain.Identity, error)
}

type Admitter interface {
	Admit(ctx context.Context, req ratelimit.Request) error
}

// ReadyCheck is one dependency probed by the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Ingestion   service.Ingestion
	Projects    service.Projects
	Resolver    IdentityResolver
	PlanLimiter Admitter
	IPLimiter   Admitter
	Tokens      auth.SecretTokenValidator
	Readiness   []ReadyCheck
	Metrics     *metrics.Metrics
	// Debug exposes the underlying error text of unexpected failures.
	Debug bool
}

type Handler struct {
	ingestion   service.Ingestion
	projects    service.Projects
	resolver    IdentityResolver
	planLimiter Admitter
	ipLimiter   Admitter
	tokens      auth.SecretTokenValidator
	readiness   []ReadyCheck
	metrics     *metrics.Metrics
	debug       bool
	logger      zerolog.Logger
}

func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		ingestion:   deps.Ingestion,
		projects:    deps.Projects,
		resolver:    deps.Resolver,
		planLimiter: deps.PlanLimiter,
		ipLimiter:   deps.IPLimiter,
		tokens:      deps.Tokens,
		readiness:   deps.Readiness,
		metrics:     deps.Metrics,
		debug:       deps.Debug,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

func (h *Handler) error(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.Unexpected("Unexpected error").WithDebug(err.Error())
	}

	l := h.logger.With().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("code", string(apiErr.Code)).
		Logger()
	if apiErr.StatusCode() >= http.StatusInternalServerError {
		l.Error().Err(err).Str("debug", apiErr.Debug).Msg("request failed")
	} else {
		l.Debug().Err(err).Msg("request rejected")
	}

	if !h.debug {
		apiErr.Debug = ""
	}
	if apiErr.Code == apierror.CodeRateLimitExceeded && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(apiErr.RetryAfter.Seconds())))
	}

	if err = encodeJSONResponse(w, apiErr.StatusCode(), apiErr); err != nil {
		h.logger.Error().Err(err).Msg("write error response")
	}
}
