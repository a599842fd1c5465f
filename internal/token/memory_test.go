package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpredict/predictd/internal/domain"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	third   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func balance(t *testing.T, bank *MemoryBank, addr common.Address) *big.Int {
	t.Helper()
	b, err := bank.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b
}

func TestMintAndTransfer(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryBank()

	bank.Mint(owner, big.NewInt(100))
	assert.Equal(t, big.NewInt(100), balance(t, bank, owner))
	assert.Zero(t, balance(t, bank, spender).Sign())

	require.NoError(t, bank.Transfer(ctx, owner, spender, big.NewInt(60)))
	assert.Equal(t, big.NewInt(40), balance(t, bank, owner))
	assert.Equal(t, big.NewInt(60), balance(t, bank, spender))

	err := bank.Transfer(ctx, owner, spender, big.NewInt(41))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, big.NewInt(40), balance(t, bank, owner), "failed transfer moves nothing")
}

func TestTransferFromAllowance(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryBank()
	bank.Mint(owner, big.NewInt(100))

	err := bank.TransferFrom(ctx, spender, owner, third, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllow)

	require.NoError(t, bank.Approve(ctx, owner, spender, big.NewInt(30)))
	require.NoError(t, bank.TransferFrom(ctx, spender, owner, third, big.NewInt(20)))
	assert.Equal(t, big.NewInt(80), balance(t, bank, owner))
	assert.Equal(t, big.NewInt(20), balance(t, bank, third))

	remaining, err := bank.Allowance(ctx, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), remaining, "allowance draws down")

	err = bank.TransferFrom(ctx, spender, owner, third, big.NewInt(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllow)
}

func TestTransferFromSelfNeedsNoAllowance(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryBank()
	bank.Mint(owner, big.NewInt(50))

	require.NoError(t, bank.TransferFrom(ctx, owner, owner, third, big.NewInt(50)))
	assert.Equal(t, big.NewInt(50), balance(t, bank, third))
}

func TestTransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryBank()
	bank.Mint(owner, big.NewInt(5))
	require.NoError(t, bank.Approve(ctx, owner, spender, big.NewInt(100)))

	err := bank.TransferFrom(ctx, spender, owner, third, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	remaining, err := bank.Allowance(ctx, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), remaining, "failed debit leaves allowance intact")
}

func TestNegativeAmountsRejected(t *testing.T) {
	ctx := context.Background()
	bank := NewMemoryBank()
	bank.Mint(owner, big.NewInt(10))

	assert.ErrorIs(t, bank.Transfer(ctx, owner, spender, big.NewInt(-1)), domain.ErrZeroValue)
	assert.ErrorIs(t, bank.Transfer(ctx, owner, spender, nil), domain.ErrZeroValue)
	assert.ErrorIs(t, bank.Approve(ctx, owner, spender, big.NewInt(-1)), domain.ErrZeroValue)
}
