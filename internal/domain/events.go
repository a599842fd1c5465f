package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType enumerates the observable transitions of the system.
type EventType string

const (
	EventRoundStart      EventType = "round_start"
	EventRoundLock       EventType = "round_lock"
	EventRoundEnd        EventType = "round_end"
	EventBetPlaced       EventType = "bet_placed"
	EventClaim           EventType = "claim"
	EventReferralPaid    EventType = "referral_paid"
	EventReferrerSet     EventType = "referrer_set"
	EventTreasuryClaim   EventType = "treasury_claim"
	EventPause           EventType = "pause"
	EventUnpause         EventType = "unpause"
	EventParamChanged    EventType = "param_changed"
	EventInstanceCreated EventType = "instance_created"
)

// Event is one observable record emitted by an engine instance or the
// registry. Only the fields meaningful for the event type are populated.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	InstanceID string    `json:"instance_id,omitempty"`
	At         time.Time `json:"at"`

	Epoch    uint64         `json:"epoch,omitempty"`
	User     common.Address `json:"user,omitempty"`
	Referrer common.Address `json:"referrer,omitempty"`
	Position *Position      `json:"position,omitempty"`
	Amount   *big.Int       `json:"amount,omitempty"`

	// Oracle fields for lock/end events.
	Price         int64  `json:"price,omitempty"`
	OracleRoundID uint64 `json:"oracle_round_id,omitempty"`

	// ReferralRounds is the number of epochs that contributed to an
	// aggregated referral payout.
	ReferralRounds int `json:"referral_rounds,omitempty"`

	// Param-change fields.
	Param string `json:"param,omitempty"`
	Value string `json:"value,omitempty"`
}

// EventEmitter receives every observable transition. Implementations must
// not block transition processing and must tolerate failure on their own
// (log and drop); event delivery is observability, not accounting.
type EventEmitter interface {
	Emit(ctx context.Context, ev Event)
}
