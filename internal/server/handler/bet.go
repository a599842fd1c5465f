package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
)

// BetRouter defines the bet-routing surface the bet handler needs.
type BetRouter interface {
	Bet(ctx context.Context, caller common.Address, instanceID string, epoch uint64, pos domain.Position, amount *big.Int) error
}

// BetHandler serves bet placement and per-user bet lookups.
type BetHandler struct {
	registry InstanceRegistry
	router   BetRouter
	logger   *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(registry InstanceRegistry, router BetRouter, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		registry: registry,
		router:   router,
		logger:   logger,
	}
}

// placeBetRequest is the JSON body for bet placement. The caller must have
// approved the router for at least the bet amount beforehand.
type placeBetRequest struct {
	Caller   string `json:"caller"`
	Epoch    uint64 `json:"epoch"`
	Position string `json:"position"`
	Amount   string `json:"amount"`
}

// PlaceBet routes a bet through the registry into the target instance.
// POST /api/instances/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	pos, err := domain.ParsePosition(req.Position)
	if err != nil {
		writeError(w, http.StatusBadRequest, "position must be bull or bear")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := h.router.Bet(r.Context(), caller, id, req.Epoch, pos, amount); err != nil {
		h.logger.WarnContext(r.Context(), "handler: bet rejected",
			slog.String("instance_id", id),
			slog.Uint64("epoch", req.Epoch),
			slog.String("user", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"instance_id": id,
		"epoch":       req.Epoch,
		"position":    pos.String(),
		"amount":      amount.String(),
	})
}

// GetBet returns one user's bet in one epoch from the live ledger.
// GET /api/instances/{id}/rounds/{epoch}/bets/{user}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
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
	user, err := parseAddress(pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	bet := eng.BetOf(epoch, user)
	if bet == nil {
		writeError(w, http.StatusNotFound, "no bet for user in epoch")
		return
	}
	writeJSON(w, http.StatusOK, bet)
}
