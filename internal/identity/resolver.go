package identity

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/cache"
	"github.com/leshachaplin/eventstream/internal/domain"
)

type ProjectStore interface {
	GetByAPIKey(ctx context.Context, apiKey string) (domain.Project, error)
}

// Resolver turns an API key into a tenant identity: format check first, then
// the identity cache, then the tenant store.
type Resolver struct {
	env    string
	cache  cache.IdentityCache
	store  ProjectStore
	ttl    time.Duration
	logger zerolog.Logger
}

func NewResolver(env string, c cache.IdentityCache, store ProjectStore, ttl time.Duration, logger zerolog.Logger) *Resolver {
	return &Resolver{
		env:    env,
		cache:  c,
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("component", "identity_resolver").Logger(),
	}
}

func (r *Resolver) Env() string {
	return r.env
}

// WellFormed reports whether the key passes the environment prefix check.
func (r *Resolver) WellFormed(apiKey string) bool {
	return domain.ValidAPIKeyFormat(apiKey, r.env)
}

func (r *Resolver) Resolve(ctx context.Context, apiKey string) (domain.Identity, error) {
	if apiKey == "" {
		return domain.Identity{}, apierror.Unauthorized("Missing API key")
	}
	if !r.WellFormed(apiKey) {
		return domain.Identity{}, apierror.Unauthorized("Invalid API key")
	}

	lookup, err := r.cache.Get(ctx, apiKey)
	if err != nil {
		r.logger.Warn().Err(err).Msg("identity cache read failed, falling back to store")
		lookup = cache.Miss()
	}
	switch lookup.State {
	case cache.KnownInvalid:
		return domain.Identity{}, apierror.Unauthorized("Invalid API key")
	case cache.Found:
		return lookup.Identity, nil
	}

	project, err := r.store.GetByAPIKey(ctx, apiKey)
	if errors.Is(err, domain.ErrNotFound) {
		if err := r.cache.SetInvalid(ctx, apiKey, r.ttl); err != nil {
			r.logger.Warn().Err(err).Msg("identity cache negative write failed")
		}
		return domain.Identity{}, apierror.Unauthorized("Invalid API key")
	}
	if err != nil {
		return domain.Identity{}, errors.Wrap(err, "lookup project by api key")
	}

	identity := project.Identity()
	if err := r.cache.SetIdentity(ctx, apiKey, identity, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("project_id", identity.ProjectID.String()).Msg("identity cache write failed")
	}
	return identity, nil
}
