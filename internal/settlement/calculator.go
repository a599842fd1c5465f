// Package settlement classifies resolved rounds and computes reward, fee,
// and referral splits. Everything here is pure integer math on token base
// units; rounding is floor division and any residual stays with the treasury
// side of the accounting, never destroyed.
package settlement

import (
	"math/big"

	"github.com/hyperpredict/predictd/internal/domain"
)

// Outcome is the settlement classification of a resolved round.
type Outcome uint8

const (
	// OutcomeRefund covers draws and single-sided rounds: every participant
	// gets their exact stake back and no fee is taken.
	OutcomeRefund Outcome = iota
	OutcomeBullWin
	OutcomeBearWin
)

// Classify determines the outcome of a round from its prices and side
// aggregates. A round with an empty side or equal lock/close prices takes
// the refund path regardless of price direction.
func Classify(r *domain.Round) Outcome {
	if r.BullAmount.Sign() == 0 || r.BearAmount.Sign() == 0 {
		return OutcomeRefund
	}
	switch {
	case r.ClosePrice > r.LockPrice:
		return OutcomeBullWin
	case r.ClosePrice < r.LockPrice:
		return OutcomeBearWin
	default:
		return OutcomeRefund
	}
}

// Settle populates the round's reward fields in place and returns the
// treasury cut to accrue on the instance. For refund-path rounds every
// reward field stays zero and no fee is taken.
//
// Directional partition: treasuryCut + referralPool + rewardAmount ==
// totalAmount exactly, because the cuts are computed by floor division and
// the reward is the remainder.
func Settle(r *domain.Round, treasuryFeeBps, referralFeeBps uint64) *big.Int {
	r.Resolved = true

	outcome := Classify(r)
	if outcome == OutcomeRefund {
		return new(big.Int)
	}

	bps := big.NewInt(domain.BasisPoints)

	treasuryCut := new(big.Int).Mul(r.TotalAmount, new(big.Int).SetUint64(treasuryFeeBps))
	treasuryCut.Div(treasuryCut, bps)

	referralPool := new(big.Int).Mul(r.TotalAmount, new(big.Int).SetUint64(referralFeeBps))
	referralPool.Div(referralPool, bps)

	reward := new(big.Int).Sub(r.TotalAmount, treasuryCut)
	reward.Sub(reward, referralPool)

	if outcome == OutcomeBullWin {
		r.RewardBaseCalAmount.Set(r.BullAmount)
	} else {
		r.RewardBaseCalAmount.Set(r.BearAmount)
	}
	r.RewardAmount.Set(reward)
	r.ReferralAmount.Set(referralPool)

	return treasuryCut
}

// WinPayout is the claim-time payout for a winning stake of size bet:
// bet * rewardAmount / rewardBaseCalAmount, floored.
func WinPayout(bet, rewardAmount, rewardBase *big.Int) *big.Int {
	if rewardBase.Sign() == 0 {
		return new(big.Int)
	}
	payout := new(big.Int).Mul(bet, rewardAmount)
	return payout.Div(payout, rewardBase)
}

// ReferralSplit allocates the claimant's slice of the round's referral pool
// (pool * bet / rewardBase) in floored halves to the claimant and their
// referrer. An odd share leaves one unit undistributed; the residual is
// returned for the treasury accumulator so the slice is never over-
// distributed and never destroyed.
func ReferralSplit(pool, bet, rewardBase *big.Int) (claimantBonus, referrerBonus, residual *big.Int) {
	claimantBonus = new(big.Int)
	referrerBonus = new(big.Int)
	residual = new(big.Int)
	if pool.Sign() == 0 || rewardBase.Sign() == 0 || bet.Sign() == 0 {
		return claimantBonus, referrerBonus, residual
	}

	share := new(big.Int).Mul(pool, bet)
	share.Div(share, rewardBase)

	claimantBonus.Rsh(share, 1) // floor(share / 2)
	referrerBonus.Set(claimantBonus)
	residual.Sub(share, claimantBonus)
	residual.Sub(residual, referrerBonus)
	return claimantBonus, referrerBonus, residual
}

// Claimable reports whether the user's bet wins a resolved directional
// round and has not been claimed yet.
func Claimable(r *domain.Round, bet *domain.BetInfo) bool {
	if r == nil || bet == nil || bet.Claimed || !r.Resolved {
		return false
	}
	if r.RewardBaseCalAmount.Sign() == 0 {
		return false
	}
	switch Classify(r) {
	case OutcomeBullWin:
		return bet.Position == domain.PositionBull
	case OutcomeBearWin:
		return bet.Position == domain.PositionBear
	default:
		return false
	}
}

// Refundable reports whether the user's stake takes the refund path: the
// round is past its close, the stake is unclaimed, and either the round
// resolved onto the refund path (draw or single-sided) or it was never
// resolved and its settlement deadline lapsed.
func Refundable(r *domain.Round, bet *domain.BetInfo, now, bufferSeconds int64) bool {
	if r == nil || bet == nil || bet.Claimed || bet.Amount.Sign() == 0 {
		return false
	}
	if r.Resolved {
		return r.RewardBaseCalAmount.Sign() == 0 && now > r.CloseTime
	}
	return now > r.CloseTime+bufferSeconds
}
