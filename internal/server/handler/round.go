package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperpredict/predictd/internal/domain"
)

// RoundHandler serves round history and live round state. The live ledger is
// consulted first; rounds that have aged out of memory come from the durable
// store.
type RoundHandler struct {
	registry InstanceRegistry
	rounds   domain.RoundStore
	logger   *slog.Logger
}

// NewRoundHandler creates a RoundHandler. rounds may be nil when the process
// runs without Postgres; history queries then return 503.
func NewRoundHandler(registry InstanceRegistry, rounds domain.RoundStore, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{
		registry: registry,
		rounds:   rounds,
		logger:   logger,
	}
}

// listRoundsResponse wraps the round history output.
type listRoundsResponse struct {
	Rounds []*domain.Round `json:"rounds"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// ListRounds returns persisted rounds for an instance, newest first.
// GET /api/instances/{id}/rounds?limit=50&offset=0
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.registry.Instance(id); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.rounds == nil {
		writeError(w, http.StatusServiceUnavailable, "round history unavailable")
		return
	}

	opts := parseListOpts(r)
	rounds, err := h.rounds.ListRounds(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list rounds failed",
			slog.String("instance_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list rounds")
		return
	}

	writeJSON(w, http.StatusOK, listRoundsResponse{
		Rounds: rounds,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetRound returns one round by epoch, preferring the live ledger.
// GET /api/instances/{id}/rounds/{epoch}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	eng, err := h.registry.Instance(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	epoch, err := parseEpoch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch")
		return
	}

	if round := eng.RoundInfo(epoch); round != nil {
		writeJSON(w, http.StatusOK, round)
		return
	}

	if h.rounds != nil {
		round, err := h.rounds.GetRound(r.Context(), id, epoch)
		if err == nil {
			writeJSON(w, http.StatusOK, round)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "handler: get round failed",
				slog.String("instance_id", id),
				slog.Uint64("epoch", epoch),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to load round")
			return
		}
	}

	writeError(w, http.StatusNotFound, "round not found")
}

// GetCurrentRound returns the bettable round of an instance.
// GET /api/instances/{id}/rounds/current
func (h *RoundHandler) GetCurrentRound(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	eng, err := h.registry.Instance(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	epoch := eng.CurrentEpoch()
	round := eng.RoundInfo(epoch)
	if round == nil {
		writeError(w, http.StatusNotFound, "no active round")
		return
	}
	writeJSON(w, http.StatusOK, round)
}
