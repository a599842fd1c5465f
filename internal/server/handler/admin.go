package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
)

// ParamAdmin defines the shared-parameter administration surface.
type ParamAdmin interface {
	SetAdmin(ctx context.Context, caller, admin common.Address) error
	SetMinBetAmount(ctx context.Context, caller common.Address, minBet *big.Int) error
	SetBufferSeconds(ctx context.Context, caller common.Address, seconds int64) error
	SetTreasuryFeeBps(ctx context.Context, caller common.Address, bps uint64) error
	SetReferralFeeBps(ctx context.Context, caller common.Address, bps uint64) error
	Params() *domain.Params
}

// AdminHandler serves parameter administration and per-instance operator
// actions. Callers authenticate at the middleware layer; the engine still
// enforces its own admin/operator checks on the supplied caller address.
type AdminHandler struct {
	registry InstanceRegistry
	params   ParamAdmin
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(registry InstanceRegistry, params ParamAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		params:   params,
		logger:   logger,
	}
}

// GetParams returns the current shared parameters.
// GET /api/admin/params
func (h *AdminHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	p := h.params.Params()
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":            p.Owner().Hex(),
		"admin":            p.Admin().Hex(),
		"min_bet_amount":   p.MinBetAmount().String(),
		"buffer_seconds":   p.BufferSeconds(),
		"treasury_fee_bps": p.TreasuryFeeBps(),
		"referral_fee_bps": p.ReferralFeeBps(),
	})
}

// updateParamsRequest carries one or more parameter updates. Absent fields
// are left unchanged.
type updateParamsRequest struct {
	Caller         string  `json:"caller"`
	Admin          *string `json:"admin,omitempty"`
	MinBetAmount   *string `json:"min_bet_amount,omitempty"`
	BufferSeconds  *int64  `json:"buffer_seconds,omitempty"`
	TreasuryFeeBps *uint64 `json:"treasury_fee_bps,omitempty"`
	ReferralFeeBps *uint64 `json:"referral_fee_bps,omitempty"`
}

// UpdateParams applies parameter changes. Admin rotation requires the owner;
// everything else requires the admin.
// PUT /api/admin/params
func (h *AdminHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	var req updateParamsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	ctx := r.Context()
	if req.Admin != nil {
		admin, err := parseAddress(*req.Admin)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid admin address")
			return
		}
		if err := h.params.SetAdmin(ctx, caller, admin); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.MinBetAmount != nil {
		minBet, err := parseAmount(*req.MinBetAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min bet amount")
			return
		}
		if err := h.params.SetMinBetAmount(ctx, caller, minBet); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.BufferSeconds != nil {
		if err := h.params.SetBufferSeconds(ctx, caller, *req.BufferSeconds); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.TreasuryFeeBps != nil {
		if err := h.params.SetTreasuryFeeBps(ctx, caller, *req.TreasuryFeeBps); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.ReferralFeeBps != nil {
		if err := h.params.SetReferralFeeBps(ctx, caller, *req.ReferralFeeBps); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	h.logger.InfoContext(ctx, "handler: params updated",
		slog.String("caller", caller.Hex()),
	)
	h.GetParams(w, r)
}

// callerRequest is the JSON body for instance actions that only need the
// acting address.
type callerRequest struct {
	Caller string `json:"caller"`
}

func (h *AdminHandler) instanceAction(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context, caller common.Address) error) {

	id := pathParam(r, "id")
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := fn(r.Context(), caller); err != nil {
		h.logger.WarnContext(r.Context(), "handler: instance action failed",
			slog.String("instance_id", id),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Pause halts round transitions and betting on one instance.
// POST /api/admin/instances/{id}/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	eng, err := h.registry.Instance(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.instanceAction(w, r, "pause", eng.Pause)
}

// Unpause resumes one instance; the pipeline restarts from a fresh genesis.
// POST /api/admin/instances/{id}/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	eng, err := h.registry.Instance(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.instanceAction(w, r, "unpause", eng.Unpause)
}

// setOperatorRequest is the JSON body for operator rotation.
type setOperatorRequest struct {
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
}

// SetOperator rotates the operator address of one instance. Admin only.
// PUT /api/admin/instances/{id}/operator
func (h *AdminHandler) SetOperator(w http.ResponseWriter, r *http.Request) {
	eng, err := h.registry.Instance(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req setOperatorRequest
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

	if err := eng.SetOperator(r.Context(), caller, operator); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"operator": operator.Hex(),
	})
}

// ClaimTreasury withdraws the accrued protocol fees of one instance to the
// admin. Admin only.
// POST /api/admin/instances/{id}/treasury/claim
func (h *AdminHandler) ClaimTreasury(w http.ResponseWriter, r *http.Request) {
	eng, err := h.registry.Instance(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	paid, err := eng.ClaimTreasury(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String()})
}
