package domain

import (
	"context"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PricePoint is a synchronous point-in-time oracle read.
type PricePoint struct {
	Price       int64  `json:"price"`        // integer price, 8 implied decimals
	PublishTime int64  `json:"publish_time"` // unix seconds
	RoundID     uint64 `json:"round_id"`     // oracle-side sequence number
}

// PriceOracle supplies point-in-time prices consumed by the engine at lock
// and settle transitions. A stale or unavailable read at settlement time is
// what triggers the buffer-expiry refund path.
type PriceOracle interface {
	LatestPrice(ctx context.Context, feedID string) (PricePoint, error)
}

// TokenMedium is the value transfer collaborator (a fungible token or a
// native-currency bank). Amounts are base units and never negative.
type TokenMedium interface {
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	// TransferFrom moves owner's funds to recipient using spender's
	// allowance, ERC-20 style.
	TransferFrom(ctx context.Context, spender, owner, recipient common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// ReferralRegistry is the user→referrer map. A referrer is set at most once
// per user, never the user themselves, never the zero address.
type ReferralRegistry interface {
	ReferrerOf(ctx context.Context, user common.Address) (common.Address, error)
	SetReferrer(ctx context.Context, user, referrer common.Address) error
}

// RoundStore persists round history. The engine's in-memory ledger stays
// authoritative; stores are the durable system of record.
type RoundStore interface {
	UpsertRound(ctx context.Context, instanceID string, r *Round) error
	GetRound(ctx context.Context, instanceID string, epoch uint64) (*Round, error)
	ListRounds(ctx context.Context, instanceID string, opts ListOpts) ([]*Round, error)
}

// BetStore persists bet history.
type BetStore interface {
	UpsertBet(ctx context.Context, instanceID string, epoch uint64, user common.Address, b *BetInfo) error
	ListUserBets(ctx context.Context, instanceID string, user common.Address, opts ListOpts) ([]*UserRound, error)
}

// PriceCache caches the latest oracle read per feed.
type PriceCache interface {
	Get(ctx context.Context, feedID string) (PricePoint, error)
	Set(ctx context.Context, feedID string, p PricePoint) error
}

// BlobWriter uploads archived payloads to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// EventStore persists the event history.
type EventStore interface {
	InsertEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, instanceID string, opts ListOpts) ([]Event, error)
}

// LockManager provides distributed mutual exclusion, used by the operator
// scheduler so only one node drives a given instance.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter is a shared sliding-window request limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
