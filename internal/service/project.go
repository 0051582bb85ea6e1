package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/domain"
)

func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (domain.Project, error) {
	fields, err := s.validator.Struct(req)
	if err != nil {
		return domain.Project{}, apierror.Unexpected("Failed to validate project").WithDebug(err.Error())
	}

	plan := domain.PlanFree
	if req.Plan != "" {
		parsed, ok := domain.ParsePlan(req.Plan)
		if !ok {
			fields = append(fields, domain.FieldError{Field: "plan", Msg: "must be one of: free pro enterprise"})
		}
		plan = parsed
	}
	if len(fields) > 0 {
		return domain.Project{}, validationError("Project validation failed", fields)
	}

	project, err := domain.NewProject(req.Name, plan, s.env, s.now())
	if err != nil {
		return domain.Project{}, apierror.Unexpected("Failed to generate API key").WithDebug(err.Error())
	}
	if err := s.projects.Add(ctx, project); err != nil {
		s.logger.Error().Err(err).Str("project_name", project.Name).Msg("store project")
		return domain.Project{}, apierror.Unexpected("Failed to create project").WithDebug(err.Error())
	}

	s.logger.Info().
		Str("project_id", project.ProjectID.String()).
		Str("plan", project.Plan.String()).
		Msg("project created")
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, projectID uuid.UUID) (domain.Project, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Project{}, apierror.NotFound("Project not found")
	case err != nil:
		return domain.Project{}, apierror.Unexpected("Failed to load project").WithDebug(err.Error())
	}
	return project, nil
}
