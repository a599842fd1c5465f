package domain

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// BasisPoints is the fee denominator: fees are expressed in 1/10000 units.
const BasisPoints = 10_000

// MaxFeeBps caps both the treasury and the referral fee.
const MaxFeeBps = 2_500

// Params is the mutable configuration shared by every engine instance a
// registry creates. It is an explicit object passed by handle at instance
// creation, never a singleton; the registry owns it and gates mutation behind
// its admin/owner checks. Reads and writes are internally synchronized so
// instances advancing concurrently always observe a consistent snapshot of
// each field.
type Params struct {
	mu sync.RWMutex

	owner         common.Address
	admin         common.Address
	minBetAmount  *big.Int
	bufferSeconds int64
	treasuryFee   uint64 // bps
	referralFee   uint64 // bps
}

// NewParams builds the shared parameter handle with its initial values.
func NewParams(owner, admin common.Address, minBet *big.Int, bufferSeconds int64, treasuryFeeBps, referralFeeBps uint64) (*Params, error) {
	if owner == ZeroAddress || admin == ZeroAddress {
		return nil, ErrZeroAddress
	}
	if minBet == nil || minBet.Sign() <= 0 {
		return nil, ErrZeroValue
	}
	if bufferSeconds <= 0 {
		return nil, ErrZeroValue
	}
	if treasuryFeeBps > MaxFeeBps || referralFeeBps > MaxFeeBps {
		return nil, ErrFeeTooHigh
	}
	return &Params{
		owner:         owner,
		admin:         admin,
		minBetAmount:  new(big.Int).Set(minBet),
		bufferSeconds: bufferSeconds,
		treasuryFee:   treasuryFeeBps,
		referralFee:   referralFeeBps,
	}, nil
}

// Owner returns the owner address.
func (p *Params) Owner() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

// Admin returns the admin address.
func (p *Params) Admin() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.admin
}

// MinBetAmount returns a copy of the minimum stake.
func (p *Params) MinBetAmount() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.minBetAmount)
}

// BufferSeconds returns the grace window for late oracle settlement.
func (p *Params) BufferSeconds() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bufferSeconds
}

// TreasuryFeeBps returns the protocol fee in basis points.
func (p *Params) TreasuryFeeBps() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.treasuryFee
}

// ReferralFeeBps returns the referral fee in basis points.
func (p *Params) ReferralFeeBps() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.referralFee
}

// SetAdmin replaces the admin address. Authorization is the registry's job.
func (p *Params) SetAdmin(admin common.Address) error {
	if admin == ZeroAddress {
		return ErrZeroAddress
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admin = admin
	return nil
}

// SetMinBetAmount replaces the minimum stake.
func (p *Params) SetMinBetAmount(minBet *big.Int) error {
	if minBet == nil || minBet.Sign() <= 0 {
		return ErrZeroValue
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minBetAmount = new(big.Int).Set(minBet)
	return nil
}

// SetBufferSeconds replaces the settlement grace window.
func (p *Params) SetBufferSeconds(seconds int64) error {
	if seconds <= 0 {
		return ErrZeroValue
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bufferSeconds = seconds
	return nil
}

// SetTreasuryFeeBps replaces the protocol fee, capped at MaxFeeBps.
func (p *Params) SetTreasuryFeeBps(bps uint64) error {
	if bps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.treasuryFee = bps
	return nil
}

// SetReferralFeeBps replaces the referral fee, capped at MaxFeeBps.
func (p *Params) SetReferralFeeBps(bps uint64) error {
	if bps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.referralFee = bps
	return nil
}
