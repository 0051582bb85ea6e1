package domain

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrMalformedPayload = errors.New("malformed payload")
)

type Plan int

const (
	PlanUnknown Plan = iota
	PlanFree
	PlanPro
	PlanEnterprise
)

var planNames = map[Plan]string{
	PlanFree:       "free",
	PlanPro:        "pro",
	PlanEnterprise: "enterprise",
}

// ParsePlan converts a raw plan name into the closed enum. It is the only place
// where plan strings are interpreted.
func ParsePlan(s string) (Plan, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range planNames {
		if name == s {
			return p, true
		}
	}
	return PlanUnknown, false
}

func (p Plan) String() string {
	if name, ok := planNames[p]; ok {
		return name
	}
	return "unknown"
}

func (p Plan) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Plan) UnmarshalText(b []byte) error {
	parsed, ok := ParsePlan(string(b))
	if !ok {
		return errors.New("unknown plan " + string(b))
	}
	*p = parsed
	return nil
}

const (
	apiKeyPrefix      = "wk_"
	apiKeyRandomBytes = 32
	apiKeyMinSecret   = 16
	apiKeyMaxSecret   = 128
)

type Project struct {
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

func NewProject(name string, plan Plan, env string, now time.Time) (Project, error) {
	key, err := GenerateAPIKey(env)
	if err != nil {
		return Project{}, err
	}
	return Project{
		ProjectID: uuid.New(),
		Name:      strings.TrimSpace(name),
		Plan:      plan,
		APIKey:    key,
		CreatedAt: now.UTC(),
	}, nil
}

func (p Project) Identity() Identity {
	return Identity{ProjectID: p.ProjectID, Plan: p.Plan}
}

// Identity is the resolved tenant attached to an authenticated request.
type Identity struct {
	ProjectID uuid.UUID `json:"project_id"`
	Plan      Plan      `json:"plan"`
}

// GenerateAPIKey returns wk_<env>_<43 url-safe characters>.
func GenerateAPIKey(env string) (string, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return APIKeyPrefix(env) + base64.RawURLEncoding.EncodeToString(b), nil
}

func APIKeyPrefix(env string) string {
	return apiKeyPrefix + env + "_"
}

// ValidAPIKeyFormat is the I/O free check run before any cache or store lookup.
func ValidAPIKeyFormat(key, env string) bool {
	prefix := APIKeyPrefix(env)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	secret := key[len(prefix):]
	if len(secret) < apiKeyMinSecret || len(secret) > apiKeyMaxSecret {
		return false
	}
	for _, c := range secret {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
