package ledger

import (
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpredict/predictd/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestCreateAndGetRound(t *testing.T) {
	b := NewBook()

	r := b.CreateRound(1, 1000, 300)
	require.NotNil(t, r)
	assert.Equal(t, uint64(1), r.Epoch)
	assert.Equal(t, int64(1300), r.LockTime)
	assert.Equal(t, int64(1600), r.CloseTime)

	assert.Same(t, r, b.Round(1))
	assert.Nil(t, b.Round(2))
}

func TestAddStakeAggregates(t *testing.T) {
	b := NewBook()
	b.CreateRound(1, 1000, 300)

	require.NoError(t, b.AddStake(1, alice, domain.PositionBull, big.NewInt(100)))
	require.NoError(t, b.AddStake(1, bob, domain.PositionBear, big.NewInt(40)))
	require.NoError(t, b.AddStake(1, alice, domain.PositionBull, big.NewInt(25)))

	r := b.Round(1)
	assert.Equal(t, big.NewInt(125), r.BullAmount)
	assert.Equal(t, big.NewInt(40), r.BearAmount)
	assert.Equal(t, big.NewInt(165), r.TotalAmount)

	bet := b.Bet(1, alice)
	require.NotNil(t, bet)
	assert.Equal(t, domain.PositionBull, bet.Position)
	assert.Equal(t, big.NewInt(125), bet.Amount)

	// The index records the epoch once despite two stakes.
	assert.Equal(t, uint64(1), b.UserRoundsLength(alice))
}

func TestAddStakeRejectsPositionFlip(t *testing.T) {
	b := NewBook()
	b.CreateRound(1, 1000, 300)

	require.NoError(t, b.AddStake(1, alice, domain.PositionBull, big.NewInt(100)))
	err := b.AddStake(1, alice, domain.PositionBear, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrPositionConflict)

	// Nothing moved on the rejected stake.
	assert.Equal(t, big.NewInt(100), b.Round(1).TotalAmount)
	assert.Equal(t, big.NewInt(100), b.Bet(1, alice).Amount)
}

func TestAddStakeUnknownRound(t *testing.T) {
	b := NewBook()
	err := b.AddStake(7, alice, domain.PositionBull, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrRoundNotStarted)
}

func TestAddStakeCopiesAmount(t *testing.T) {
	b := NewBook()
	b.CreateRound(1, 1000, 300)

	amount := big.NewInt(50)
	require.NoError(t, b.AddStake(1, alice, domain.PositionBull, amount))
	amount.SetInt64(9999)

	assert.Equal(t, big.NewInt(50), b.Bet(1, alice).Amount)
}

func TestUserRoundsPagination(t *testing.T) {
	b := NewBook()
	for epoch := uint64(1); epoch <= 5; epoch++ {
		b.CreateRound(epoch, int64(epoch)*1000, 300)
		require.NoError(t, b.AddStake(epoch, alice, domain.PositionBull, big.NewInt(int64(epoch))))
	}
	assert.Equal(t, uint64(5), b.UserRoundsLength(alice))

	page, next := b.UserRounds(alice, 0, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1), page[0].Epoch)
	assert.Equal(t, uint64(2), page[1].Epoch)
	assert.Equal(t, uint64(2), next)

	page, next = b.UserRounds(alice, next, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Epoch)
	assert.Equal(t, uint64(4), next)

	// Short final page.
	page, next = b.UserRounds(alice, next, 2)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(5), page[0].Epoch)
	assert.Equal(t, big.NewInt(5), page[0].Bet.Amount)
	assert.Equal(t, uint64(5), next)

	// Past the end: empty page, cursor unchanged.
	page, next = b.UserRounds(alice, next, 2)
	assert.Empty(t, page)
	assert.Equal(t, uint64(5), next)

	// A size that would wrap cursor+size past MaxUint64 clamps to the end
	// instead of panicking.
	page, next = b.UserRounds(alice, 2, math.MaxUint64)
	require.Len(t, page, 3)
	assert.Equal(t, uint64(3), page[0].Epoch)
	assert.Equal(t, uint64(5), next)
}

func TestUserRoundsUnknownUser(t *testing.T) {
	b := NewBook()
	page, next := b.UserRounds(bob, 0, 10)
	assert.Empty(t, page)
	assert.Equal(t, uint64(0), next)
	assert.Zero(t, b.UserRoundsLength(bob))
}

func TestUserRoundsReturnsCopies(t *testing.T) {
	b := NewBook()
	b.CreateRound(1, 1000, 300)
	require.NoError(t, b.AddStake(1, alice, domain.PositionBull, big.NewInt(10)))

	page, _ := b.UserRounds(alice, 0, 1)
	require.Len(t, page, 1)
	page[0].Bet.Amount.SetInt64(777)
	page[0].Bet.Claimed = true

	assert.Equal(t, big.NewInt(10), b.Bet(1, alice).Amount)
	assert.False(t, b.Bet(1, alice).Claimed)
}
