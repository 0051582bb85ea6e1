package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/leshachaplin/eventstream/internal/domain"
)

type ProjectStore struct {
	db *DB
}

func NewProjectStore(db *DB) *ProjectStore { return &ProjectStore{db: db} }

func (s *ProjectStore) Add(ctx context.Context, p domain.Project) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO projects (project_id, name, plan, api_key, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ProjectID, p.Name, p.Plan.String(), p.APIKey, p.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert project")
	}
	return nil
}

func (s *ProjectStore) GetByAPIKey(ctx context.Context, apiKey string) (domain.Project, error) {
	return s.getOne(ctx, `
		SELECT project_id, name, plan, api_key, created_at
		FROM projects
		WHERE api_key = $1`, apiKey)
}

func (s *ProjectStore) GetByID(ctx context.Context, projectID uuid.UUID) (domain.Project, error) {
	return s.getOne(ctx, `
		SELECT project_id, name, plan, api_key, created_at
		FROM projects
		WHERE project_id = $1`, projectID)
}

func (s *ProjectStore) getOne(ctx context.Context, query string, arg any) (domain.Project, error) {
	var (
		p    domain.Project
		plan string
	)
	err := s.db.Pool.QueryRow(ctx, query, arg).Scan(&p.ProjectID, &p.Name, &plan, &p.APIKey, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Project{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Project{}, errors.Wrap(err, "select project")
	}

	// unknown plans degrade to the anonymous budget rather than failing auth
	p.Plan, _ = domain.ParsePlan(plan)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
