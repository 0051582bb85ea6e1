package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/metrics"
	"github.com/leshachaplin/eventstream/internal/stream"
)

type ProjectStore interface {
	Add(ctx context.Context, project domain.Project) error
	GetByID(ctx context.Context, projectID uuid.UUID) (domain.Project, error)
}

type Ingestion interface {
	IngestEvent(ctx context.Context, identity domain.Identity, req IngestEventRequest) (uuid.UUID, error)
	IngestBatch(ctx context.Context, identity domain.Identity, items []RawEvent) ([]uuid.UUID, error)
}

type Projects interface {
	CreateProject(ctx context.Context, req CreateProjectRequest) (domain.Project, error)
	GetProject(ctx context.Context, projectID uuid.UUID) (domain.Project, error)
}

type Service struct {
	producer  stream.Producer
	projects  ProjectStore
	env       string
	validator *Validator
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger
}

func New(
	env string,
	producer stream.Producer,
	projects ProjectStore,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		producer:  producer,
		projects:  projects,
		env:       env,
		validator: NewValidator(),
		metrics:   m,
		now:       time.Now,
		logger:    logger.With().Str("component", "ingestion_service").Logger(),
	}
}
