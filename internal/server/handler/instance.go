package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/engine"
)

// InstanceRegistry defines the registry surface the instance handler needs.
// Declared locally so the handler package does not depend on the concrete
// registry implementation.
type InstanceRegistry interface {
	CreateInstance(ctx context.Context, caller common.Address, spec domain.InstanceSpec) (domain.InstanceInfo, error)
	Instance(id string) (*engine.Engine, error)
	List() []domain.InstanceInfo
}

// InstanceHandler serves instance lifecycle and status endpoints.
type InstanceHandler struct {
	registry InstanceRegistry
	logger   *slog.Logger
}

// NewInstanceHandler creates an InstanceHandler.
func NewInstanceHandler(registry InstanceRegistry, logger *slog.Logger) *InstanceHandler {
	return &InstanceHandler{
		registry: registry,
		logger:   logger,
	}
}

// listInstancesResponse wraps the list endpoint output.
type listInstancesResponse struct {
	Instances []domain.InstanceInfo `json:"instances"`
	Total     int                   `json:"total"`
}

// ListInstances returns every registered instance.
// GET /api/instances
func (h *InstanceHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.List()
	writeJSON(w, http.StatusOK, listInstancesResponse{
		Instances: infos,
		Total:     len(infos),
	})
}

// createInstanceRequest is the JSON body for instance creation.
type createInstanceRequest struct {
	Caller          string `json:"caller"`
	Symbol          string `json:"symbol"`
	PriceFeedID     string `json:"price_feed_id"`
	Operator        string `json:"operator"`
	IntervalSeconds int64  `json:"interval_seconds"`
}

// CreateInstance registers a new prediction instance. Admin only.
// POST /api/instances
func (h *InstanceHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	operator, err := parseAddress(req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid operator address")
		return
	}

	info, err := h.registry.CreateInstance(r.Context(), caller, domain.InstanceSpec{
		Symbol:          req.Symbol,
		PriceFeedID:     req.PriceFeedID,
		Operator:        operator,
		IntervalSeconds: req.IntervalSeconds,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create instance failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// instanceStatusResponse is the live state snapshot of one instance.
type instanceStatusResponse struct {
	domain.InstanceInfo
	CurrentEpoch   uint64 `json:"current_epoch"`
	Paused         bool   `json:"paused"`
	GenesisStarted bool   `json:"genesis_started"`
	GenesisLocked  bool   `json:"genesis_locked"`
	TreasuryAmount string `json:"treasury_amount"`
}

// GetInstance returns one instance with its live pipeline state.
// GET /api/instances/{id}
func (h *InstanceHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing instance id")
		return
	}

	eng, err := h.registry.Instance(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, instanceStatusResponse{
		InstanceInfo:   eng.Info(),
		CurrentEpoch:   eng.CurrentEpoch(),
		Paused:         eng.Paused(),
		GenesisStarted: eng.GenesisStarted(),
		GenesisLocked:  eng.GenesisLocked(),
		TreasuryAmount: eng.TreasuryAmount().String(),
	})
}
