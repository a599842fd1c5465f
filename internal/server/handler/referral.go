package handler

import (
	"log/slog"
	"net/http"

	"github.com/hyperpredict/predictd/internal/domain"
)

// ReferralHandler serves the user→referrer registry.
type ReferralHandler struct {
	referrals domain.ReferralRegistry
	logger    *slog.Logger
}

// NewReferralHandler creates a ReferralHandler.
func NewReferralHandler(referrals domain.ReferralRegistry, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{
		referrals: referrals,
		logger:    logger,
	}
}

// setReferrerRequest is the JSON body for referrer registration.
type setReferrerRequest struct {
	User     string `json:"user"`
	Referrer string `json:"referrer"`
}

// SetReferrer binds a referrer to a user. The binding is permanent.
// POST /api/referrals
func (h *ReferralHandler) SetReferrer(w http.ResponseWriter, r *http.Request) {
	var req setReferrerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	referrer, err := parseAddress(req.Referrer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid referrer address")
		return
	}

	if err := h.referrals.SetReferrer(r.Context(), user, referrer); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"user":     user.Hex(),
		"referrer": referrer.Hex(),
	})
}

// GetReferrer returns the user's referrer, or 404 when none is set.
// GET /api/referrals/{user}
func (h *ReferralHandler) GetReferrer(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(pathParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	referrer, err := h.referrals.ReferrerOf(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if referrer == domain.ZeroAddress {
		writeError(w, http.StatusNotFound, "no referrer set")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user":     user.Hex(),
		"referrer": referrer.Hex(),
	})
}
