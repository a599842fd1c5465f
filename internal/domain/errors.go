package domain

import "errors"

// Sequencing errors: the caller must retry later; no state changes.
var (
	ErrGenesisStartedAlready = errors.New("genesis start already triggered")
	ErrGenesisLockedAlready  = errors.New("genesis lock already triggered")
	ErrGenesisNotStarted     = errors.New("genesis start not yet triggered")
	ErrGenesisNotLocked      = errors.New("genesis start and lock not yet triggered")
	ErrTooEarlyToLock        = errors.New("can only lock round after lock time")
	ErrBufferExceeded        = errors.New("can only lock round within buffer window")
)

// Betting errors.
var (
	ErrBetWrongEpoch      = errors.New("bet is too early/late")
	ErrRoundNotBettable   = errors.New("round not bettable")
	ErrBetBelowMinimum    = errors.New("bet amount below minimum")
	ErrPositionConflict   = errors.New("can only add to existing position")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientAllow  = errors.New("insufficient allowance")
)

// Claim eligibility errors: the whole batched claim is rejected.
var (
	ErrRoundNotStarted = errors.New("round has not started")
	ErrRoundNotEnded   = errors.New("round has not ended")
	ErrNotClaimable    = errors.New("not eligible for claim")
	ErrNotRefundable   = errors.New("not eligible for refund")
)

// Authorization and pause-gate errors.
var (
	ErrNotOperator        = errors.New("not operator")
	ErrNotAdmin           = errors.New("not admin")
	ErrNotOwner           = errors.New("not owner")
	ErrNotOperatorOrAdmin = errors.New("not operator/admin")
	ErrPaused             = errors.New("paused")
	ErrNotPaused          = errors.New("not paused")
)

// Parameter and registry errors.
var (
	ErrZeroAddress     = errors.New("cannot be zero address")
	ErrZeroValue       = errors.New("must be superior to 0")
	ErrFeeTooHigh      = errors.New("fee too high")
	ErrUnknownInstance = errors.New("unknown instance")
	ErrInstanceExists  = errors.New("instance already exists")
)

// Referral registry errors.
var (
	ErrReferrerAlreadySet = errors.New("referrer already set")
	ErrSelfReferral       = errors.New("self referral not allowed")
	ErrInvalidReferrer    = errors.New("invalid referrer")
)

// Oracle errors.
var (
	ErrStalePrice   = errors.New("oracle price is stale")
	ErrPriceMissing = errors.New("oracle price unavailable")
)

// Store and infrastructure errors.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
