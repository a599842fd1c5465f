package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
)

// BalanceReader is the token surface the user handler needs.
type BalanceReader interface {
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
}

// UserHandler serves per-user queries: round participation, claim
// eligibility, and token balance.
type UserHandler struct {
	registry InstanceRegistry
	bets     domain.BetStore
	token    BalanceReader
	logger   *slog.Logger
}

// NewUserHandler creates a UserHandler. bets may be nil when the process
// runs without Postgres.
func NewUserHandler(registry InstanceRegistry, bets domain.BetStore, token BalanceReader, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		registry: registry,
		bets:     bets,
		token:    token,
		logger:   logger,
	}
}

// userRoundsResponse is one page of a user's round participation.
type userRoundsResponse struct {
	Rounds []domain.UserRound `json:"rounds"`
	Cursor uint64             `json:"cursor"`
	Total  uint64             `json:"total"`
}

// GetUserRounds returns a cursor-paginated slice of the user's bets on one
// instance, oldest first, from the live ledger.
// GET /api/instances/{id}/users/{user}/rounds?cursor=0&size=100
func (h *UserHandler) GetUserRounds(w http.ResponseWriter, r *http.Request) {
	eng, err := h.registry.Instance(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	user, err := parseAddress(pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	q := r.URL.Query()
	cursor, _ := strconv.ParseUint(q.Get("cursor"), 10, 64)
	size := uint64(100)
	if v := q.Get("size"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 && n <= 500 {
			size = n
		}
	}

	rounds, next := eng.UserRounds(user, cursor, size)
	writeJSON(w, http.StatusOK, userRoundsResponse{
		Rounds: rounds,
		Cursor: next,
		Total:  eng.UserRoundsLength(user),
	})
}

// claimEligibilityResponse reports both claim paths for one epoch.
type claimEligibilityResponse struct {
	Epoch      uint64 `json:"epoch"`
	Claimable  bool   `json:"claimable"`
	Refundable bool   `json:"refundable"`
}

// GetClaimEligibility reports whether the user can claim a win or a refund
// for one epoch.
// GET /api/instances/{id}/users/{user}/rounds/{epoch}/eligibility
func (h *UserHandler) GetClaimEligibility(w http.ResponseWriter, r *http.Request) {
	eng, err := h.registry.Instance(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	user, err := parseAddress(pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	epoch, err := parseEpoch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch")
		return
	}

	writeJSON(w, http.StatusOK, claimEligibilityResponse{
		Epoch:      epoch,
		Claimable:  eng.Claimable(epoch, user),
		Refundable: eng.Refundable(epoch, user),
	})
}

// GetUserHistory returns the user's persisted bet history on one instance,
// oldest first, from the durable store.
// GET /api/instances/{id}/users/{user}/history?limit=50&offset=0
func (h *UserHandler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.registry.Instance(id); err != nil {
		writeDomainError(w, err)
		return
	}
	user, err := parseAddress(pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	if h.bets == nil {
		writeError(w, http.StatusServiceUnavailable, "bet history unavailable")
		return
	}

	opts := parseListOpts(r)
	rounds, err := h.bets.ListUserBets(r.Context(), id, user, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list user bets failed",
			slog.String("instance_id", id),
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list user bets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rounds": rounds,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetBalance returns the user's token balance in base units.
// GET /api/users/{user}/balance
func (h *UserHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	balance, err := h.token.BalanceOf(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user":    user.Hex(),
		"balance": balance.String(),
	})
}
