// Package referral implements the user→referrer registry shared by all
// engine instances. A referrer binds at most once per user and can never be
// the user themselves or the zero address.
package referral

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
)

// Registry is the in-memory referral map. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	referrers map[common.Address]common.Address

	emitter domain.EventEmitter
	logger  *slog.Logger
}

// New creates an empty Registry. emitter may be nil.
func New(emitter domain.EventEmitter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		referrers: make(map[common.Address]common.Address),
		emitter:   emitter,
		logger:    logger.With(slog.String("component", "referral")),
	}
}

// ReferrerOf returns the user's referrer, or the zero address when none was
// ever set.
func (r *Registry) ReferrerOf(_ context.Context, user common.Address) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.referrers[user], nil
}

// SetReferrer binds referrer to user. The binding is permanent: a second
// call for the same user fails regardless of the referrer offered.
func (r *Registry) SetReferrer(ctx context.Context, user, referrer common.Address) error {
	if referrer == domain.ZeroAddress {
		return domain.ErrInvalidReferrer
	}
	if referrer == user {
		return domain.ErrSelfReferral
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.referrers[user]; ok {
		return domain.ErrReferrerAlreadySet
	}
	r.referrers[user] = referrer

	r.logger.InfoContext(ctx, "referrer set",
		slog.String("user", user.Hex()),
		slog.String("referrer", referrer.Hex()),
	)
	if r.emitter != nil {
		r.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventReferrerSet,
			User:     user,
			Referrer: referrer,
		})
	}
	return nil
}
