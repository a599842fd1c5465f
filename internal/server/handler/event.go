package handler

import (
	"log/slog"
	"net/http"

	"github.com/hyperpredict/predictd/internal/domain"
)

// EventHandler serves the persisted event history of an instance.
type EventHandler struct {
	registry InstanceRegistry
	events   domain.EventStore
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler. events may be nil when the
// process runs without Postgres.
func NewEventHandler(registry InstanceRegistry, events domain.EventStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		registry: registry,
		events:   events,
		logger:   logger,
	}
}

// ListEvents returns persisted events for an instance, newest first.
// GET /api/instances/{id}/events?limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.registry.Instance(id); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event history unavailable")
		return
	}

	opts := parseListOpts(r)
	events, err := h.events.ListEvents(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("instance_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
