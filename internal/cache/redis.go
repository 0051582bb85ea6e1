package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/leshachaplin/eventstream/internal/domain"
)

const redisKeyPrefix = "identity:"

// redisEntry carries an explicit state so a negative entry can never be
// mistaken for a tenant.
type redisEntry struct {
	State     string      `json:"state"`
	ProjectID uuid.UUID   `json:"project_id,omitempty"`
	Plan      domain.Plan `json:"plan,omitempty"`
}

type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, apiKey string) (Lookup, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+apiKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Miss(), nil
	}
	if err != nil {
		return Miss(), errors.Wrap(err, "redis get identity")
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Miss(), nil
	}
	switch entry.State {
	case Found.String():
		return Hit(domain.Identity{ProjectID: entry.ProjectID, Plan: entry.Plan}), nil
	case KnownInvalid.String():
		return Invalid(), nil
	default:
		return Miss(), nil
	}
}

func (r *Redis) SetIdentity(ctx context.Context, apiKey string, identity domain.Identity, ttl time.Duration) error {
	return r.set(ctx, apiKey, redisEntry{
		State:     Found.String(),
		ProjectID: identity.ProjectID,
		Plan:      identity.Plan,
	}, ttl)
}

func (r *Redis) SetInvalid(ctx context.Context, apiKey string, ttl time.Duration) error {
	return r.set(ctx, apiKey, redisEntry{State: KnownInvalid.String()}, ttl)
}

func (r *Redis) set(ctx context.Context, apiKey string, entry redisEntry, ttl time.Duration) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal identity entry")
	}
	if err := r.client.Set(ctx, redisKeyPrefix+apiKey, b, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set identity")
	}
	return nil
}
