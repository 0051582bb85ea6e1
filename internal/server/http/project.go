package http

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/service"
)

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProjectRequest
	if err := decodeJSONRequest(w, r, &req); err != nil {
		h.error(w, r, err)
		return
	}

	project, err := h.projects.CreateProject(r.Context(), req)
	if err != nil {
		h.error(w, r, err)
		return
	}

	_ = encodeJSONResponse(w, http.StatusOK, service.NewProjectResponse(project, true))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		h.error(w, r, apierror.Validation("project_id must be a UUID"))
		return
	}

	project, err := h.projects.GetProject(r.Context(), projectID)
	if err != nil {
		h.error(w, r, err)
		return
	}

	_ = encodeJSONResponse(w, http.StatusOK, service.NewProjectResponse(project, false))
}
