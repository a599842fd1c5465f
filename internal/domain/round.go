// Package domain holds the core types of the prediction settlement engine:
// rounds, bets, shared parameters, events, and the interfaces to external
// collaborators (price oracle, token medium, referral registry, stores).
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the unset address sentinel.
var ZeroAddress = common.Address{}

// Round is one betting-and-settlement cycle of an engine instance. Timestamps
// are unix seconds; prices are oracle integers (8 implied decimals) with 0 as
// the not-yet-resolved sentinel. Amounts are token base units.
type Round struct {
	Epoch      uint64 `json:"epoch"`
	StartTime  int64  `json:"start_time"`
	LockTime   int64  `json:"lock_time"`
	CloseTime  int64  `json:"close_time"`
	LockPrice  int64  `json:"lock_price"`
	ClosePrice int64  `json:"close_price"`

	TotalAmount *big.Int `json:"total_amount"`
	BullAmount  *big.Int `json:"bull_amount"`
	BearAmount  *big.Int `json:"bear_amount"`

	// RewardBaseCalAmount is the winning side's total stake, the payout
	// denominator. Zero on refund-path rounds.
	RewardBaseCalAmount *big.Int `json:"reward_base_cal_amount"`
	// RewardAmount is the pot distributable to winners after the treasury
	// cut and the referral pool are taken off the top.
	RewardAmount *big.Int `json:"reward_amount"`
	// ReferralAmount is this round's referral pool.
	ReferralAmount *big.Int `json:"referral_amount"`

	// Resolved is set once the oracle supplied both lock and close price in
	// time and the settlement calculator ran.
	Resolved bool `json:"resolved"`
}

// NewRound creates an empty round for the given epoch and start time.
func NewRound(epoch uint64, startTime, intervalSeconds int64) *Round {
	return &Round{
		Epoch:               epoch,
		StartTime:           startTime,
		LockTime:            startTime + intervalSeconds,
		CloseTime:           startTime + 2*intervalSeconds,
		TotalAmount:         new(big.Int),
		BullAmount:          new(big.Int),
		BearAmount:          new(big.Int),
		RewardBaseCalAmount: new(big.Int),
		RewardAmount:        new(big.Int),
		ReferralAmount:      new(big.Int),
	}
}

// SideAmount returns the aggregate stake of one side.
func (r *Round) SideAmount(p Position) *big.Int {
	if p == PositionBull {
		return r.BullAmount
	}
	return r.BearAmount
}

// AddStake adds amount to one side and to the round total.
func (r *Round) AddStake(p Position, amount *big.Int) {
	r.TotalAmount.Add(r.TotalAmount, amount)
	side := r.SideAmount(p)
	side.Add(side, amount)
}

// Clone returns a deep copy, safe to hand out past the engine lock.
func (r *Round) Clone() *Round {
	cp := *r
	cp.TotalAmount = new(big.Int).Set(r.TotalAmount)
	cp.BullAmount = new(big.Int).Set(r.BullAmount)
	cp.BearAmount = new(big.Int).Set(r.BearAmount)
	cp.RewardBaseCalAmount = new(big.Int).Set(r.RewardBaseCalAmount)
	cp.RewardAmount = new(big.Int).Set(r.RewardAmount)
	cp.ReferralAmount = new(big.Int).Set(r.ReferralAmount)
	return &cp
}

// BetInfo is a user's cumulative stake in one epoch. A user holds at most one
// position per epoch; later bets on the same side accumulate.
type BetInfo struct {
	Position Position `json:"position"`
	Amount   *big.Int `json:"amount"`
	Claimed  bool     `json:"claimed"`
}

// Clone returns a deep copy of the bet entry.
func (b *BetInfo) Clone() *BetInfo {
	cp := *b
	cp.Amount = new(big.Int).Set(b.Amount)
	return &cp
}

// UserRound pairs an epoch with the user's bet in it, as returned by the
// paginated user-round queries.
type UserRound struct {
	Epoch uint64  `json:"epoch"`
	Bet   BetInfo `json:"bet"`
}

// ArchivedBet pairs a user with their bet in one round, for archive payloads
// and round-level history queries.
type ArchivedBet struct {
	User common.Address `json:"user"`
	Bet  BetInfo        `json:"bet"`
}

// InstanceSpec describes a new engine instance to be created by the registry.
type InstanceSpec struct {
	Symbol          string         `json:"symbol"`
	PriceFeedID     string         `json:"price_feed_id"`
	Operator        common.Address `json:"operator"`
	IntervalSeconds int64          `json:"interval_seconds"`
}

// InstanceInfo is the registry's public record of a created instance.
type InstanceInfo struct {
	ID              string         `json:"id"`
	Symbol          string         `json:"symbol"`
	PriceFeedID     string         `json:"price_feed_id"`
	Address         common.Address `json:"address"`
	Operator        common.Address `json:"operator"`
	IntervalSeconds int64          `json:"interval_seconds"`
}

// ListOpts carries standard pagination parameters for store queries.
type ListOpts struct {
	Limit  int
	Offset int
}
