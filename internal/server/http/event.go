package http

import (
	"net/http"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/service"
)

const statusAccepted = "accepted"

func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.error(w, r, apierror.Unauthorized("Missing API key"))
		return
	}

	var req service.IngestEventRequest
	if err := decodeJSONRequest(w, r, &req); err != nil {
		h.error(w, r, err)
		return
	}

	eventID, err := h.ingestion.IngestEvent(r.Context(), identity, req)
	if err != nil {
		h.error(w, r, err)
		return
	}

	_ = encodeJSONResponse(w, http.StatusAccepted, service.EventAccepted{
		Status:  statusAccepted,
		EventID: eventID.String(),
	})
}

func (h *Handler) EventBatch(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.error(w, r, apierror.Unauthorized("Missing API key"))
		return
	}

	var req service.IngestBatchRequest
	if err := decodeJSONRequest(w, r, &req); err != nil {
		h.error(w, r, err)
		return
	}

	eventIDs, err := h.ingestion.IngestBatch(r.Context(), identity, req.Events)
	if err != nil {
		h.error(w, r, err)
		return
	}

	ids := make([]string, 0, len(eventIDs))
	for _, id := range eventIDs {
		ids = append(ids, id.String())
	}
	_ = encodeJSONResponse(w, http.StatusAccepted, service.BatchAccepted{
		Status:   statusAccepted,
		EventIDs: ids,
	})
}
