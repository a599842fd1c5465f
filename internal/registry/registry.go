// Package registry manages the set of prediction instances: creation under
// admin control, shared-parameter administration, bet routing, and the
// composite batch claim across instances.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/engine"
)

// Registry creates and indexes engine instances. All instances share one
// parameter handle; the registry gates every parameter mutation behind the
// admin (or owner) check before delegating to it.
type Registry struct {
	mu sync.RWMutex

	params    *domain.Params
	oracle    domain.PriceOracle
	token     domain.TokenMedium
	referrals domain.ReferralRegistry
	emitter   domain.EventEmitter
	logger    *slog.Logger
	now       func() time.Time

	// routerAddr is the registry's own account used as the transient hop
	// for routed bets. It holds no residual value between calls.
	routerAddr common.Address

	instances map[string]*engine.Engine
	order     []string
}

// Config carries the registry's collaborators.
type Config struct {
	Params     *domain.Params
	Oracle     domain.PriceOracle
	Token      domain.TokenMedium
	Referrals  domain.ReferralRegistry
	Emitter    domain.EventEmitter
	Logger     *slog.Logger
	RouterAddr common.Address
	Now        func() time.Time
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		params:     cfg.Params,
		oracle:     cfg.Oracle,
		token:      cfg.Token,
		referrals:  cfg.Referrals,
		emitter:    cfg.Emitter,
		logger:     logger.With(slog.String("component", "registry")),
		now:        nowFn,
		routerAddr: cfg.RouterAddr,
		instances:  make(map[string]*engine.Engine),
	}
}

// instanceAddress derives a stable account address for a new instance from
// its identifier.
func instanceAddress(id uuid.UUID) common.Address {
	return common.BytesToAddress(id[:])
}

// CreateInstance creates a new engine instance for spec. Admin-only.
func (r *Registry) CreateInstance(ctx context.Context, caller common.Address, spec domain.InstanceSpec) (domain.InstanceInfo, error) {
	if err := r.requireAdmin(caller); err != nil {
		return domain.InstanceInfo{}, err
	}
	if spec.Symbol == "" || spec.PriceFeedID == "" {
		return domain.InstanceInfo{}, fmt.Errorf("registry: symbol and price feed required: %w", domain.ErrZeroValue)
	}
	if spec.Operator == domain.ZeroAddress {
		return domain.InstanceInfo{}, domain.ErrZeroAddress
	}
	if spec.IntervalSeconds <= 0 {
		return domain.InstanceInfo{}, domain.ErrZeroValue
	}

	// IDs are derived from the spec so an instance keeps its identity (and
	// its persisted history) across restarts.
	id := uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s/%s/%d", spec.Symbol, spec.PriceFeedID, spec.IntervalSeconds))
	r.mu.RLock()
	_, exists := r.instances[id.String()]
	r.mu.RUnlock()
	if exists {
		return domain.InstanceInfo{}, domain.ErrInstanceExists
	}

	eng := engine.New(engine.Config{
		ID:              id.String(),
		Symbol:          spec.Symbol,
		Address:         instanceAddress(id),
		PriceFeedID:     spec.PriceFeedID,
		Operator:        spec.Operator,
		IntervalSeconds: spec.IntervalSeconds,
		Params:          r.params,
		Oracle:          r.oracle,
		Token:           r.token,
		Referrals:       r.referrals,
		Emitter:         r.emitter,
		Logger:          r.logger,
		Now:             r.now,
	})

	r.mu.Lock()
	r.instances[eng.ID()] = eng
	r.order = append(r.order, eng.ID())
	r.mu.Unlock()

	info := eng.Info()
	r.logger.InfoContext(ctx, "instance created",
		slog.String("instance", info.ID),
		slog.String("symbol", info.Symbol),
		slog.Int64("interval_seconds", info.IntervalSeconds),
	)
	r.emit(ctx, domain.Event{
		Type:       domain.EventInstanceCreated,
		InstanceID: info.ID,
		Param:      "symbol",
		Value:      info.Symbol,
	})
	return info, nil
}

// Instance returns the engine for id.
func (r *Registry) Instance(id string) (*engine.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eng, ok := r.instances[id]
	if !ok {
		return nil, domain.ErrUnknownInstance
	}
	return eng, nil
}

// List returns every instance in creation order.
func (r *Registry) List() []domain.InstanceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]domain.InstanceInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.instances[id].Info())
	}
	return infos
}

// Engines returns every engine in creation order, for the scheduler.
func (r *Registry) Engines() []*engine.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engines := make([]*engine.Engine, 0, len(r.order))
	for _, id := range r.order {
		engines = append(engines, r.instances[id])
	}
	return engines
}

// Bet routes caller's stake into the instance. The value hops through the
// registry's router account (pulled from the caller, approved onward, and
// pulled again by the engine), so a rejected bet is refunded in full and the
// router never accumulates residual balance.
func (r *Registry) Bet(ctx context.Context, caller common.Address, instanceID string, epoch uint64, pos domain.Position, amount *big.Int) error {
	eng, err := r.Instance(instanceID)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroValue
	}

	if err := r.token.TransferFrom(ctx, r.routerAddr, caller, r.routerAddr, amount); err != nil {
		return fmt.Errorf("registry: pull stake: %w", err)
	}
	if err := r.token.Approve(ctx, r.routerAddr, eng.Address(), amount); err != nil {
		r.refund(ctx, caller, amount)
		return fmt.Errorf("registry: approve instance: %w", err)
	}
	if err := eng.PlaceBetFrom(ctx, r.routerAddr, caller, epoch, pos, amount); err != nil {
		r.refund(ctx, caller, amount)
		return err
	}
	return nil
}

// refund returns a pulled stake after a failed routing step.
func (r *Registry) refund(ctx context.Context, caller common.Address, amount *big.Int) {
	if err := r.token.Transfer(ctx, r.routerAddr, caller, amount); err != nil {
		r.logger.ErrorContext(ctx, "bet refund failed",
			slog.String("user", caller.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ClaimRequest names the epochs to claim on one instance.
type ClaimRequest struct {
	InstanceID string   `json:"instance_id"`
	Epochs     []uint64 `json:"epochs"`
}

// ClaimResult is the paid total for one claim request.
type ClaimResult struct {
	InstanceID string   `json:"instance_id"`
	Paid       *big.Int `json:"paid"`
}

// BatchClaim settles claims across instances for caller, all-or-nothing.
// Phase one validates every request (an unknown instance or a single
// ineligible epoch fails the whole batch before anything is paid) and phase
// two executes the claims. Eligibility cannot regress between the phases for
// the claiming user, so phase two failures are limited to transfer faults.
func (r *Registry) BatchClaim(ctx context.Context, caller common.Address, requests []ClaimRequest) ([]ClaimResult, error) {
	engines := make([]*engine.Engine, len(requests))
	claimed := make(map[string]map[uint64]bool, len(requests))
	for i, req := range requests {
		eng, err := r.Instance(req.InstanceID)
		if err != nil {
			return nil, err
		}
		// Requests naming the same instance with overlapping epochs would
		// each validate in isolation and then fail mid-execution, leaving a
		// partial payout behind.
		epochs := claimed[req.InstanceID]
		if epochs == nil {
			epochs = make(map[uint64]bool, len(req.Epochs))
			claimed[req.InstanceID] = epochs
		}
		for _, epoch := range req.Epochs {
			if epochs[epoch] {
				return nil, fmt.Errorf("registry: instance %s: %w", req.InstanceID, domain.ErrNotClaimable)
			}
			epochs[epoch] = true
		}
		if err := eng.ValidateClaim(ctx, caller, req.Epochs); err != nil {
			return nil, fmt.Errorf("registry: instance %s: %w", req.InstanceID, err)
		}
		engines[i] = eng
	}

	results := make([]ClaimResult, 0, len(requests))
	for i, req := range requests {
		paid, err := engines[i].Claim(ctx, caller, req.Epochs)
		if err != nil {
			return results, fmt.Errorf("registry: instance %s: %w", req.InstanceID, err)
		}
		results = append(results, ClaimResult{InstanceID: req.InstanceID, Paid: paid})
	}
	return results, nil
}

// ---- shared parameter administration ----

// SetAdmin replaces the shared admin. Owner-only.
func (r *Registry) SetAdmin(ctx context.Context, caller, admin common.Address) error {
	if caller != r.params.Owner() {
		return domain.ErrNotOwner
	}
	if err := r.params.SetAdmin(admin); err != nil {
		return err
	}
	r.emitParamChange(ctx, "admin", admin.Hex())
	return nil
}

// SetMinBetAmount replaces the shared minimum stake. Admin-only.
func (r *Registry) SetMinBetAmount(ctx context.Context, caller common.Address, minBet *big.Int) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := r.params.SetMinBetAmount(minBet); err != nil {
		return err
	}
	r.emitParamChange(ctx, "min_bet_amount", minBet.String())
	return nil
}

// SetBufferSeconds replaces the shared settlement grace window. Admin-only.
func (r *Registry) SetBufferSeconds(ctx context.Context, caller common.Address, seconds int64) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := r.params.SetBufferSeconds(seconds); err != nil {
		return err
	}
	r.emitParamChange(ctx, "buffer_seconds", fmt.Sprintf("%d", seconds))
	return nil
}

// SetTreasuryFeeBps replaces the protocol fee. Admin-only.
func (r *Registry) SetTreasuryFeeBps(ctx context.Context, caller common.Address, bps uint64) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := r.params.SetTreasuryFeeBps(bps); err != nil {
		return err
	}
	r.emitParamChange(ctx, "treasury_fee_bps", fmt.Sprintf("%d", bps))
	return nil
}

// SetReferralFeeBps replaces the referral fee. Admin-only.
func (r *Registry) SetReferralFeeBps(ctx context.Context, caller common.Address, bps uint64) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := r.params.SetReferralFeeBps(bps); err != nil {
		return err
	}
	r.emitParamChange(ctx, "referral_fee_bps", fmt.Sprintf("%d", bps))
	return nil
}

// Params exposes the shared parameter handle for read-only inspection.
func (r *Registry) Params() *domain.Params { return r.params }

func (r *Registry) requireAdmin(caller common.Address) error {
	if caller != r.params.Admin() {
		return domain.ErrNotAdmin
	}
	return nil
}

func (r *Registry) emitParamChange(ctx context.Context, param, value string) {
	r.logger.InfoContext(ctx, "parameter changed",
		slog.String("param", param),
		slog.String("value", value),
	)
	r.emit(ctx, domain.Event{Type: domain.EventParamChanged, Param: param, Value: value})
}

func (r *Registry) emit(ctx context.Context, ev domain.Event) {
	if r.emitter == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = r.now()
	r.emitter.Emit(ctx, ev)
}
