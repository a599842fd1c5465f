// Package token provides value-medium implementations of the transfer
// interface the engine settles through. The in-memory bank backs tests and
// single-node deployments; amounts are big.Int base units and balances can
// never go negative.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// MemoryBank is an ERC-20-shaped in-memory ledger of balances and
// allowances. Safe for concurrent use.
type MemoryBank struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

// NewMemoryBank creates an empty bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Mint credits amount to addr out of thin air.
func (m *MemoryBank) Mint(addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(addr, amount)
}

// BalanceOf returns addr's balance.
func (m *MemoryBank) BalanceOf(_ context.Context, addr common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// Transfer moves amount from one account to another.
func (m *MemoryBank) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debit(from, amount); err != nil {
		return err
	}
	m.credit(to, amount)
	return nil
}

// TransferFrom moves owner's funds to recipient against spender's allowance.
// A spender moving their own funds needs no allowance.
func (m *MemoryBank) TransferFrom(_ context.Context, spender, owner, recipient common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var allowed *big.Int
	if spender != owner {
		var ok bool
		allowed, ok = m.allowances[allowanceKey{owner: owner, spender: spender}]
		if !ok || allowed.Cmp(amount) < 0 {
			return fmt.Errorf("token: %s spending for %s: %w", spender.Hex(), owner.Hex(), domain.ErrInsufficientAllow)
		}
	}

	if err := m.debit(owner, amount); err != nil {
		return err
	}
	if allowed != nil {
		allowed.Sub(allowed, amount)
	}
	m.credit(recipient, amount)
	return nil
}

// Approve sets spender's allowance over owner's funds.
func (m *MemoryBank) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrZeroValue
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{owner: owner, spender: spender}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns spender's remaining allowance over owner's funds.
func (m *MemoryBank) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (m *MemoryBank) credit(addr common.Address, amount *big.Int) {
	b, ok := m.balances[addr]
	if !ok {
		b = new(big.Int)
		m.balances[addr] = b
	}
	b.Add(b, amount)
}

func (m *MemoryBank) debit(addr common.Address, amount *big.Int) error {
	b, ok := m.balances[addr]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("token: debit %s: %w", addr.Hex(), domain.ErrInsufficientFunds)
	}
	b.Sub(b, amount)
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrZeroValue
	}
	return nil
}
