package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/registry"
)

// ClaimRouter defines the batch-claim surface the claim handler needs.
type ClaimRouter interface {
	BatchClaim(ctx context.Context, caller common.Address, requests []registry.ClaimRequest) ([]registry.ClaimResult, error)
}

// ClaimHandler serves batch claims across instances.
type ClaimHandler struct {
	registry InstanceRegistry
	router   ClaimRouter
	logger   *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(reg InstanceRegistry, router ClaimRouter, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{
		registry: reg,
		router:   router,
		logger:   logger,
	}
}

// claimRequestEntry names the epochs to claim on one instance.
type claimRequestEntry struct {
	InstanceID string   `json:"instance_id"`
	Epochs     []uint64 `json:"epochs"`
}

// batchClaimRequest is the JSON body for POST /api/claims. The whole batch
// settles atomically: one ineligible epoch rejects everything.
type batchClaimRequest struct {
	Caller string              `json:"caller"`
	Claims []claimRequestEntry `json:"claims"`
}

// claimResultEntry reports the paid total for one instance.
type claimResultEntry struct {
	InstanceID string `json:"instance_id"`
	Paid       string `json:"paid"`
}

func decodeClaims(entries []claimRequestEntry) []registry.ClaimRequest {
	reqs := make([]registry.ClaimRequest, 0, len(entries))
	for _, e := range entries {
		reqs = append(reqs, registry.ClaimRequest{
			InstanceID: e.InstanceID,
			Epochs:     e.Epochs,
		})
	}
	return reqs
}

// BatchClaim settles wins and refunds for the caller across instances.
// POST /api/claims
func (h *ClaimHandler) BatchClaim(w http.ResponseWriter, r *http.Request) {
	var req batchClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Claims) == 0 {
		writeError(w, http.StatusBadRequest, "no claims given")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	results, err := h.router.BatchClaim(r.Context(), caller, decodeClaims(req.Claims))
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: batch claim rejected",
			slog.String("user", caller.Hex()),
			slog.Int("requests", len(req.Claims)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]claimResultEntry, 0, len(results))
	for _, res := range results {
		out = append(out, claimResultEntry{
			InstanceID: res.InstanceID,
			Paid:       res.Paid.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// ValidateClaim dry-runs a batch claim without moving funds.
// POST /api/claims/validate
func (h *ClaimHandler) ValidateClaim(w http.ResponseWriter, r *http.Request) {
	var req batchClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Claims) == 0 {
		writeError(w, http.StatusBadRequest, "no claims given")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	for _, entry := range req.Claims {
		eng, err := h.registry.Instance(entry.InstanceID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := eng.ValidateClaim(r.Context(), caller, entry.Epochs); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "claimable"})
}
