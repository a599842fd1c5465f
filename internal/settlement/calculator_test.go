package settlement

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpredict/predictd/internal/domain"
)

func eth(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad amount: " + s)
	}
	return v
}

func newRound(bull, bear *big.Int, lockPrice, closePrice int64) *domain.Round {
	r := domain.NewRound(1, 1000, 300)
	r.LockPrice = lockPrice
	r.ClosePrice = closePrice
	r.BullAmount.Set(bull)
	r.BearAmount.Set(bear)
	r.TotalAmount.Add(bull, bear)
	return r
}

func TestClassify(t *testing.T) {
	one := big.NewInt(1)

	tests := []struct {
		name string
		r    *domain.Round
		want Outcome
	}{
		{"bull wins on price up", newRound(one, one, 100, 101), OutcomeBullWin},
		{"bear wins on price down", newRound(one, one, 100, 99), OutcomeBearWin},
		{"draw refunds", newRound(one, one, 100, 100), OutcomeRefund},
		{"empty bear side refunds", newRound(one, new(big.Int), 100, 200), OutcomeRefund},
		{"empty bull side refunds", newRound(new(big.Int), one, 100, 50), OutcomeRefund},
		{"no bets refunds", newRound(new(big.Int), new(big.Int), 100, 200), OutcomeRefund},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.r))
		})
	}
}

func TestSettleDirectional(t *testing.T) {
	// 1.1 bull vs 1.2 bear, price up, 50 bps treasury and 50 bps referral.
	bull := eth("1100000000000000000")
	bear := eth("1200000000000000000")
	r := newRound(bull, bear, 10000000000, 10050000000)

	cut := Settle(r, 50, 50)

	require.True(t, r.Resolved)
	assert.Equal(t, eth("11500000000000000"), cut, "treasury cut")
	assert.Equal(t, eth("11500000000000000"), r.ReferralAmount, "referral pool")
	assert.Equal(t, eth("2277000000000000000"), r.RewardAmount, "reward")
	assert.Equal(t, bull, r.RewardBaseCalAmount, "base is the winning side")

	// Exact partition: cuts plus reward reassemble the pot.
	sum := new(big.Int).Add(cut, r.ReferralAmount)
	sum.Add(sum, r.RewardAmount)
	assert.Equal(t, r.TotalAmount, sum)
}

func TestSettlePartitionWithRounding(t *testing.T) {
	// A pot that does not divide evenly by the fee rates.
	r := newRound(big.NewInt(333), big.NewInt(334), 100, 90)

	cut := Settle(r, 250, 100)

	// 667 * 250 / 10000 = 16 (floored), 667 * 100 / 10000 = 6 (floored).
	assert.Equal(t, big.NewInt(16), cut)
	assert.Equal(t, big.NewInt(6), r.ReferralAmount)
	assert.Equal(t, big.NewInt(645), r.RewardAmount)
	assert.Equal(t, big.NewInt(334), r.RewardBaseCalAmount)

	sum := new(big.Int).Add(cut, r.ReferralAmount)
	sum.Add(sum, r.RewardAmount)
	assert.Equal(t, r.TotalAmount, sum)
}

func TestSettleRefundPathTakesNoFee(t *testing.T) {
	tests := []struct {
		name string
		r    *domain.Round
	}{
		{"draw", newRound(eth("1000000000000000000"), eth("2000000000000000000"), 100, 100)},
		{"single sided", newRound(eth("1000000000000000000"), new(big.Int), 100, 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cut := Settle(tt.r, 300, 100)
			require.True(t, tt.r.Resolved)
			assert.Zero(t, cut.Sign())
			assert.Zero(t, tt.r.RewardAmount.Sign())
			assert.Zero(t, tt.r.RewardBaseCalAmount.Sign())
			assert.Zero(t, tt.r.ReferralAmount.Sign())
		})
	}
}

func TestWinPayout(t *testing.T) {
	reward := eth("2277000000000000000")
	base := eth("1100000000000000000")

	// Full winning side claims the full reward.
	assert.Equal(t, reward, WinPayout(base, reward, base))

	// Partial stake: 0.4 * 2.277 / 1.1 = 0.828, exact.
	assert.Equal(t, eth("828000000000000000"),
		WinPayout(eth("400000000000000000"), reward, base))

	// Degenerate base yields nothing rather than dividing by zero.
	assert.Zero(t, WinPayout(big.NewInt(5), reward, new(big.Int)).Sign())
}

func TestReferralSplit(t *testing.T) {
	pool := eth("11500000000000000")
	base := eth("1100000000000000000")

	claimant, referrer, residual := ReferralSplit(pool, base, base)
	assert.Equal(t, eth("5750000000000000"), claimant, "claimant gets floored half")
	assert.Equal(t, eth("5750000000000000"), referrer, "referrer gets floored half")
	assert.Zero(t, residual.Sign(), "even share leaves no residual")

	// Odd share: both halves floor and the odd unit is the residual, so the
	// slice is never over-distributed.
	claimant, referrer, residual = ReferralSplit(big.NewInt(11), big.NewInt(1), big.NewInt(3))
	assert.Equal(t, big.NewInt(1), claimant)
	assert.Equal(t, big.NewInt(1), referrer)
	assert.Equal(t, big.NewInt(1), residual)

	claimant, referrer, residual = ReferralSplit(new(big.Int), base, base)
	assert.Zero(t, claimant.Sign())
	assert.Zero(t, referrer.Sign())
	assert.Zero(t, residual.Sign())
}

func TestClaimable(t *testing.T) {
	r := newRound(eth("1000000000000000000"), eth("1000000000000000000"), 100, 150)
	Settle(r, 50, 50)

	bull := &domain.BetInfo{Position: domain.PositionBull, Amount: eth("1000000000000000000")}
	bear := &domain.BetInfo{Position: domain.PositionBear, Amount: eth("1000000000000000000")}

	assert.True(t, Claimable(r, bull))
	assert.False(t, Claimable(r, bear), "losing side is not claimable")
	assert.False(t, Claimable(r, nil))
	assert.False(t, Claimable(nil, bull))

	bull.Claimed = true
	assert.False(t, Claimable(r, bull), "claimed stake is not claimable twice")

	unresolved := newRound(eth("1"), eth("1"), 100, 150)
	assert.False(t, Claimable(unresolved, &domain.BetInfo{Position: domain.PositionBull, Amount: big.NewInt(1)}))
}

func TestRefundable(t *testing.T) {
	const buffer = 30
	bet := &domain.BetInfo{Position: domain.PositionBull, Amount: big.NewInt(10)}

	t.Run("resolved draw refundable after close", func(t *testing.T) {
		r := newRound(big.NewInt(10), big.NewInt(10), 100, 100)
		Settle(r, 50, 50)
		assert.False(t, Refundable(r, bet, r.CloseTime, buffer), "not at close time itself")
		assert.True(t, Refundable(r, bet, r.CloseTime+1, buffer))
	})

	t.Run("resolved directional never refundable", func(t *testing.T) {
		r := newRound(big.NewInt(10), big.NewInt(10), 100, 150)
		Settle(r, 50, 50)
		assert.False(t, Refundable(r, bet, r.CloseTime+buffer+100, buffer))
	})

	t.Run("unresolved waits out the buffer", func(t *testing.T) {
		r := newRound(big.NewInt(10), big.NewInt(10), 100, 0)
		assert.False(t, Refundable(r, bet, r.CloseTime+buffer, buffer))
		assert.True(t, Refundable(r, bet, r.CloseTime+buffer+1, buffer))
	})

	t.Run("claimed or empty stake never refundable", func(t *testing.T) {
		r := newRound(big.NewInt(10), big.NewInt(10), 100, 0)
		claimed := &domain.BetInfo{Position: domain.PositionBull, Amount: big.NewInt(10), Claimed: true}
		assert.False(t, Refundable(r, claimed, r.CloseTime+buffer+1, buffer))
		assert.False(t, Refundable(r, nil, r.CloseTime+buffer+1, buffer))
	})
}
