package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/auth"
	"github.com/leshachaplin/eventstream/internal/domain"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	Driver           string        `mapstructure:"driver"`
	FreeRPM          int           `mapstructure:"free_rpm"`
	ProRPM           int           `mapstructure:"pro_rpm"`
	EnterpriseRPM    int           `mapstructure:"enterprise_rpm"`
	NoAuthRPM        int           `mapstructure:"no_auth_rpm"`
	ProjectCreateRPM int           `mapstructure:"project_create_rpm"`
	Window           time.Duration `mapstructure:"window"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Driver:           DriverMemory,
		FreeRPM:          100,
		ProRPM:           1000,
		EnterpriseRPM:    10000,
		NoAuthRPM:        10,
		ProjectCreateRPM: 5,
		Window:           60 * time.Second,
	}
}

func (c Config) window() time.Duration {
	if c.Window <= 0 {
		return 60 * time.Second
	}
	return c.Window
}

// PlanRPM maps a plan to its per-minute budget. Anything unresolved gets the
// anonymous budget.
func PlanRPM(plan domain.Plan, cfg Config) int {
	switch plan {
	case domain.PlanFree:
		return cfg.FreeRPM
	case domain.PlanPro:
		return cfg.ProRPM
	case domain.PlanEnterprise:
		return cfg.EnterpriseRPM
	default:
		return cfg.NoAuthRPM
	}
}

type Request struct {
	APIKey        string
	Authorization string
	ClientIP      string
}

type Resolver interface {
	WellFormed(apiKey string) bool
	Resolve(ctx context.Context, apiKey string) (domain.Identity, error)
}

// PlanLimiter guards the ingestion endpoints with a per-tenant budget derived
// from the project's plan.
type PlanLimiter struct {
	cfg      Config
	counter  Counter
	resolver Resolver
}

func NewPlanLimiter(cfg Config, counter Counter, resolver Resolver) *PlanLimiter {
	return &PlanLimiter{cfg: cfg, counter: counter, resolver: resolver}
}

func (l *PlanLimiter) Admit(ctx context.Context, req Request) error {
	if !l.cfg.Enabled {
		return nil
	}
	identifier, rpm, err := l.identify(ctx, req)
	if err != nil {
		return err
	}
	return enforce(ctx, l.counter, identifier, rpm, l.cfg.window())
}

func (l *PlanLimiter) identify(ctx context.Context, req Request) (string, int, error) {
	anonymous := "ip:" + req.ClientIP
	if req.APIKey == "" || !l.resolver.WellFormed(req.APIKey) {
		return anonymous, l.cfg.NoAuthRPM, nil
	}

	identity, err := l.resolver.Resolve(ctx, req.APIKey)
	if err != nil {
		var apiErr apierror.Error
		if errors.As(err, &apiErr) && apiErr.Code == apierror.CodeUnauthorized {
			return anonymous, l.cfg.NoAuthRPM, nil
		}
		return "", 0, err
	}
	return "project:" + identity.ProjectID.String(), PlanRPM(identity.Plan, l.cfg), nil
}

// IPLimiter guards administrative endpoints. Callers holding the admin secret
// are never limited.
type IPLimiter struct {
	cfg       Config
	counter   Counter
	validator auth.SecretTokenValidator
}

func NewIPLimiter(cfg Config, counter Counter, validator auth.SecretTokenValidator) *IPLimiter {
	return &IPLimiter{cfg: cfg, counter: counter, validator: validator}
}

func (l *IPLimiter) Admit(ctx context.Context, req Request) error {
	if !l.cfg.Enabled {
		return nil
	}
	if l.validator.ValidateHeader(req.Authorization) {
		return nil
	}
	return enforce(ctx, l.counter, "project_create:"+req.ClientIP, l.cfg.ProjectCreateRPM, l.cfg.window())
}

func enforce(ctx context.Context, counter Counter, identifier string, limit int, window time.Duration) error {
	d, err := counter.Allow(ctx, identifier, limit, window)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return apierror.RateLimitExceeded(window)
	}
	return nil
}
