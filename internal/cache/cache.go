package cache

import (
	"context"
	"time"

	"github.com/leshachaplin/eventstream/internal/domain"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"

	defaultTTL     = 300 * time.Second
	defaultMaxSize = 10_000
)

type Config struct {
	Driver  string        `mapstructure:"driver"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

func (c Config) WithDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxSize
	}
	return c
}

// State is the outcome of an identity lookup.
type State int

const (
	Unknown State = iota
	Found
	KnownInvalid
)

func (s State) String() string {
	switch s {
	case Found:
		return "found"
	case KnownInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type Lookup struct {
	State    State
	Identity domain.Identity
}

func Miss() Lookup                        { return Lookup{State: Unknown} }
func Invalid() Lookup                     { return Lookup{State: KnownInvalid} }
func Hit(identity domain.Identity) Lookup { return Lookup{State: Found, Identity: identity} }

func (l Lookup) Is(state State) bool { return l.State == state }

// IdentityCache maps API keys to resolved tenants, including negative entries.
type IdentityCache interface {
	Get(ctx context.Context, apiKey string) (Lookup, error)
	SetIdentity(ctx context.Context, apiKey string, identity domain.Identity, ttl time.Duration) error
	SetInvalid(ctx context.Context, apiKey string, ttl time.Duration) error
}
