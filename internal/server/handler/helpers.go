package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the engine's sentinel errors to HTTP statuses and
// sends the sentinel text as the error body. Unrecognized errors become a
// generic 500 so internal detail never leaks to the client.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnknownInstance):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotOperator),
		errors.Is(err, domain.ErrNotAdmin),
		errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotOperatorOrAdmin):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrPaused),
		errors.Is(err, domain.ErrNotPaused),
		errors.Is(err, domain.ErrGenesisStartedAlready),
		errors.Is(err, domain.ErrGenesisLockedAlready),
		errors.Is(err, domain.ErrGenesisNotStarted),
		errors.Is(err, domain.ErrGenesisNotLocked),
		errors.Is(err, domain.ErrTooEarlyToLock),
		errors.Is(err, domain.ErrBufferExceeded),
		errors.Is(err, domain.ErrReferrerAlreadySet),
		errors.Is(err, domain.ErrInstanceExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrBetWrongEpoch),
		errors.Is(err, domain.ErrRoundNotBettable),
		errors.Is(err, domain.ErrBetBelowMinimum),
		errors.Is(err, domain.ErrPositionConflict),
		errors.Is(err, domain.ErrRoundNotStarted),
		errors.Is(err, domain.ErrRoundNotEnded),
		errors.Is(err, domain.ErrNotClaimable),
		errors.Is(err, domain.ErrNotRefundable),
		errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrZeroValue),
		errors.Is(err, domain.ErrFeeTooHigh),
		errors.Is(err, domain.ErrSelfReferral),
		errors.Is(err, domain.ErrInvalidReferrer):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientAllow):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrStalePrice),
		errors.Is(err, domain.ErrPriceMissing):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseEpoch parses the {epoch} path parameter.
func parseEpoch(r *http.Request) (uint64, error) {
	return strconv.ParseUint(pathParam(r, "epoch"), 10, 64)
}

// parseAddress validates and decodes a 0x-prefixed hex account address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, domain.ErrZeroAddress
	}
	addr := common.HexToAddress(s)
	if addr == domain.ZeroAddress {
		return common.Address{}, domain.ErrZeroAddress
	}
	return addr, nil
}

// parseAmount decodes a decimal base-unit amount. Amounts travel as strings
// because token base units overflow int64.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, domain.ErrZeroValue
	}
	return n, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
