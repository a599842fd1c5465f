// Package engine implements the round lifecycle state machine of one
// prediction instance: genesis bootstrap, the steady-state three-round
// pipeline (bettable / locked / pending settlement), the bet ledger, and the
// claim path. Every mutating operation is serialized behind a single mutex
// so no caller ever observes a partially-updated round or ledger.
package engine

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
	"github.com/hyperpredict/predictd/internal/ledger"
	"github.com/hyperpredict/predictd/internal/settlement"
)

// Config carries everything an Engine needs at construction.
type Config struct {
	ID              string
	Symbol          string
	Address         common.Address // instance account holding staked value
	PriceFeedID     string
	Operator        common.Address
	IntervalSeconds int64

	Params    *domain.Params
	Oracle    domain.PriceOracle
	Token     domain.TokenMedium
	Referrals domain.ReferralRegistry
	Emitter   domain.EventEmitter
	Logger    *slog.Logger

	// Now is the transition clock; defaults to time.Now. Injectable for
	// deterministic tests.
	Now func() time.Time
}

// Engine is one prediction instance. External callers (the operator
// scheduler, the registry, the API) drive every transition; the engine runs
// no background tasks of its own.
type Engine struct {
	mu sync.Mutex

	id       string
	symbol   string
	address  common.Address
	feedID   string
	operator common.Address
	interval int64

	params    *domain.Params
	oracle    domain.PriceOracle
	token     domain.TokenMedium
	referrals domain.ReferralRegistry
	emitter   domain.EventEmitter
	logger    *slog.Logger
	now       func() time.Time

	book           *ledger.Book
	currentEpoch   uint64
	genesisStarted bool
	genesisLocked  bool
	paused         bool

	treasuryAmount *big.Int
	// referralPaidTotal tracks the lifetime referral pool allocated by
	// resolved directional rounds, for reporting.
	referralPaidTotal *big.Int

	oracleLatestRoundID uint64
}

// New creates an Engine from cfg.
func New(cfg Config) *Engine {
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		id:                cfg.ID,
		symbol:            cfg.Symbol,
		address:           cfg.Address,
		feedID:            cfg.PriceFeedID,
		operator:          cfg.Operator,
		interval:          cfg.IntervalSeconds,
		params:            cfg.Params,
		oracle:            cfg.Oracle,
		token:             cfg.Token,
		referrals:         cfg.Referrals,
		emitter:           cfg.Emitter,
		logger:            logger.With(slog.String("component", "engine"), slog.String("instance", cfg.ID), slog.String("symbol", cfg.Symbol)),
		now:               nowFn,
		book:              ledger.NewBook(),
		treasuryAmount:    new(big.Int),
		referralPaidTotal: new(big.Int),
	}
}

// ID returns the registry-assigned instance identifier.
func (e *Engine) ID() string { return e.id }

// Address returns the instance account address.
func (e *Engine) Address() common.Address { return e.address }

// Info returns the public description of the instance.
func (e *Engine) Info() domain.InstanceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.InstanceInfo{
		ID:              e.id,
		Symbol:          e.symbol,
		PriceFeedID:     e.feedID,
		Address:         e.address,
		Operator:        e.operator,
		IntervalSeconds: e.interval,
	}
}

// ---- transitions ----

// GenesisStartRound bootstraps the pipeline: creates round 1 starting now.
// Callable once per genesis cycle, operator-only, rejected while paused.
func (e *Engine) GenesisStartRound(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if e.paused {
		return domain.ErrPaused
	}
	if e.genesisStarted {
		return domain.ErrGenesisStartedAlready
	}

	e.currentEpoch++
	e.startRound(ctx, e.currentEpoch)
	e.genesisStarted = true
	return nil
}

// GenesisLockRound locks round 1 with a fresh oracle read and starts round 2.
// Callable once per genesis cycle after GenesisStartRound, within the lock
// window of round 1.
func (e *Engine) GenesisLockRound(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if e.paused {
		return domain.ErrPaused
	}
	if !e.genesisStarted {
		return domain.ErrGenesisNotStarted
	}
	if e.genesisLocked {
		return domain.ErrGenesisLockedAlready
	}
	if err := e.checkLockWindow(e.currentEpoch); err != nil {
		return err
	}

	price, err := e.verifiedPrice(ctx)
	if err != nil {
		return err
	}

	e.lockRound(ctx, e.currentEpoch, price)
	e.currentEpoch++
	e.startRound(ctx, e.currentEpoch)
	e.genesisLocked = true
	return nil
}

// ExecuteRound advances the steady-state pipeline one step. With the current
// bettable epoch N it settles round N-1, locks round N, and starts round
// N+1, all against a single oracle read. A missed window is rejected and
// never force-settled; the stalled rounds drift into refund eligibility on
// their own deadlines.
func (e *Engine) ExecuteRound(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if e.paused {
		return domain.ErrPaused
	}
	if !e.genesisStarted || !e.genesisLocked {
		return domain.ErrGenesisNotLocked
	}
	if err := e.checkLockWindow(e.currentEpoch); err != nil {
		return err
	}

	price, err := e.verifiedPrice(ctx)
	if err != nil {
		return err
	}

	e.endRound(ctx, e.currentEpoch-1, price)
	e.lockRound(ctx, e.currentEpoch, price)
	e.currentEpoch++
	e.startRound(ctx, e.currentEpoch)
	return nil
}

// startRound creates the round record for epoch and emits round-start.
func (e *Engine) startRound(ctx context.Context, epoch uint64) {
	now := e.now().Unix()
	e.book.CreateRound(epoch, now, e.interval)
	e.logger.InfoContext(ctx, "round started", slog.Uint64("epoch", epoch))
	e.emit(ctx, domain.Event{Type: domain.EventRoundStart, Epoch: epoch})
}

// lockRound stamps the lock price on epoch and emits round-lock.
func (e *Engine) lockRound(ctx context.Context, epoch uint64, price domain.PricePoint) {
	round := e.book.Round(epoch)
	round.LockPrice = price.Price
	e.logger.InfoContext(ctx, "round locked",
		slog.Uint64("epoch", epoch),
		slog.Int64("lock_price", price.Price),
	)
	e.emit(ctx, domain.Event{
		Type:          domain.EventRoundLock,
		Epoch:         epoch,
		Price:         price.Price,
		OracleRoundID: price.RoundID,
	})
}

// endRound stamps the close price on epoch, runs the settlement calculator,
// accrues the treasury cut, and emits round-end.
func (e *Engine) endRound(ctx context.Context, epoch uint64, price domain.PricePoint) {
	round := e.book.Round(epoch)
	round.ClosePrice = price.Price

	treasuryCut := settlement.Settle(round, e.params.TreasuryFeeBps(), e.params.ReferralFeeBps())
	e.treasuryAmount.Add(e.treasuryAmount, treasuryCut)

	e.logger.InfoContext(ctx, "round settled",
		slog.Uint64("epoch", epoch),
		slog.Int64("close_price", price.Price),
		slog.String("reward_amount", round.RewardAmount.String()),
		slog.String("treasury_cut", treasuryCut.String()),
	)
	e.emit(ctx, domain.Event{
		Type:          domain.EventRoundEnd,
		Epoch:         epoch,
		Price:         price.Price,
		OracleRoundID: price.RoundID,
	})
}

// checkLockWindow enforces the lock window of epoch: not before its lock
// time, not past its close time plus the shared buffer.
func (e *Engine) checkLockWindow(epoch uint64) error {
	round := e.book.Round(epoch)
	if round == nil {
		return domain.ErrRoundNotStarted
	}
	now := e.now().Unix()
	if now < round.LockTime {
		return domain.ErrTooEarlyToLock
	}
	if now > round.CloseTime+e.params.BufferSeconds() {
		return domain.ErrBufferExceeded
	}
	return nil
}

// verifiedPrice reads the oracle once and rejects stale or regressing data.
// The read happens at the transition, never mid-flight.
func (e *Engine) verifiedPrice(ctx context.Context) (domain.PricePoint, error) {
	price, err := e.oracle.LatestPrice(ctx, e.feedID)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("engine: oracle read %s: %w", e.feedID, err)
	}
	now := e.now().Unix()
	if now-price.PublishTime > e.params.BufferSeconds() {
		return domain.PricePoint{}, domain.ErrStalePrice
	}
	if price.RoundID < e.oracleLatestRoundID {
		return domain.PricePoint{}, domain.ErrStalePrice
	}
	e.oracleLatestRoundID = price.RoundID
	return price, nil
}

// ---- betting ----

// PlaceBet stakes the bettor's own funds on one side of the current epoch.
// The bettor must have approved the instance account beforehand.
func (e *Engine) PlaceBet(ctx context.Context, bettor common.Address, epoch uint64, pos domain.Position, amount *big.Int) error {
	return e.PlaceBetFrom(ctx, bettor, bettor, epoch, pos, amount)
}

// PlaceBetFrom stakes amount pulled from the funding account on behalf of
// bettor. The registry routes bets through here so that the ledger credits
// the original caller while the value is pulled from the router.
func (e *Engine) PlaceBetFrom(ctx context.Context, funding, bettor common.Address, epoch uint64, pos domain.Position, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return domain.ErrPaused
	}
	if !pos.Valid() {
		return fmt.Errorf("engine: %w: invalid position", domain.ErrRoundNotBettable)
	}
	if epoch != e.currentEpoch {
		return domain.ErrBetWrongEpoch
	}
	round := e.book.Round(epoch)
	now := e.now().Unix()
	if round == nil || now < round.StartTime || now >= round.LockTime {
		return domain.ErrRoundNotBettable
	}
	if amount == nil || amount.Cmp(e.params.MinBetAmount()) < 0 {
		return domain.ErrBetBelowMinimum
	}
	if existing := e.book.Bet(epoch, bettor); existing != nil && existing.Position != pos {
		return domain.ErrPositionConflict
	}

	// Pull the stake before touching the ledger; a failed transfer leaves
	// no trace.
	if err := e.token.TransferFrom(ctx, e.address, funding, e.address, amount); err != nil {
		return fmt.Errorf("engine: pull stake: %w", err)
	}
	if err := e.book.AddStake(epoch, bettor, pos, amount); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "bet placed",
		slog.Uint64("epoch", epoch),
		slog.String("user", bettor.Hex()),
		slog.String("position", pos.String()),
		slog.String("amount", amount.String()),
	)
	e.emit(ctx, domain.Event{
		Type:     domain.EventBetPlaced,
		Epoch:    epoch,
		User:     bettor,
		Position: &pos,
		Amount:   new(big.Int).Set(amount),
	})
	return nil
}

// ---- claims ----

// claimEntry is one epoch's computed payout within a claim batch. residual
// is the odd unit of an uneven referral split, accrued to the treasury.
type claimEntry struct {
	epoch         uint64
	bet           *domain.BetInfo
	payout        *big.Int
	referrerBonus *big.Int
	residual      *big.Int
}

// computeClaims validates every epoch of a claim batch and computes the
// payouts without mutating anything. Any ineligible epoch fails the whole
// batch.
func (e *Engine) computeClaims(ctx context.Context, user common.Address, epochs []uint64) ([]claimEntry, common.Address, error) {
	now := e.now().Unix()
	buffer := e.params.BufferSeconds()

	referrer := domain.ZeroAddress
	referrerKnown := false

	entries := make([]claimEntry, 0, len(epochs))
	seen := make(map[uint64]bool, len(epochs))
	for _, epoch := range epochs {
		// A duplicated epoch would pass eligibility twice, since Claimed is
		// only set after the whole batch is computed and paid.
		if seen[epoch] {
			return nil, domain.ZeroAddress, domain.ErrNotClaimable
		}
		seen[epoch] = true

		round := e.book.Round(epoch)
		if round == nil {
			return nil, domain.ZeroAddress, domain.ErrRoundNotStarted
		}
		if now <= round.CloseTime {
			return nil, domain.ZeroAddress, domain.ErrRoundNotEnded
		}

		bet := e.book.Bet(epoch, user)

		if round.Resolved && round.RewardBaseCalAmount.Sign() > 0 {
			// Directional round: only an unclaimed winning stake is payable.
			if !settlement.Claimable(round, bet) {
				return nil, domain.ZeroAddress, domain.ErrNotClaimable
			}
			entry := claimEntry{
				epoch:         epoch,
				bet:           bet,
				payout:        settlement.WinPayout(bet.Amount, round.RewardAmount, round.RewardBaseCalAmount),
				referrerBonus: new(big.Int),
				residual:      new(big.Int),
			}
			if round.ReferralAmount.Sign() > 0 {
				if !referrerKnown {
					ref, err := e.referrals.ReferrerOf(ctx, user)
					if err != nil {
						return nil, domain.ZeroAddress, fmt.Errorf("engine: referrer lookup: %w", err)
					}
					referrer = ref
					referrerKnown = true
				}
				if referrer != domain.ZeroAddress {
					claimantBonus, referrerBonus, residual := settlement.ReferralSplit(round.ReferralAmount, bet.Amount, round.RewardBaseCalAmount)
					entry.payout.Add(entry.payout, claimantBonus)
					entry.referrerBonus = referrerBonus
					entry.residual = residual
				}
			}
			entries = append(entries, entry)
			continue
		}

		if bet == nil || bet.Amount.Sign() == 0 {
			return nil, domain.ZeroAddress, domain.ErrNotClaimable
		}
		if !settlement.Refundable(round, bet, now, buffer) {
			return nil, domain.ZeroAddress, domain.ErrNotRefundable
		}
		entries = append(entries, claimEntry{
			epoch:         epoch,
			bet:           bet,
			payout:        new(big.Int).Set(bet.Amount),
			referrerBonus: new(big.Int),
			residual:      new(big.Int),
		})
	}
	return entries, referrer, nil
}

// ValidateClaim reports whether the whole batch would currently succeed,
// without paying anything out. The registry's batch router uses it as the
// first phase of its all-or-nothing composite claim.
func (e *Engine) ValidateClaim(ctx context.Context, user common.Address, epochs []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _, err := e.computeClaims(ctx, user, epochs)
	return err
}

// Claim settles a batch of epochs for user: wins and refunds mix freely, the
// whole batch is all-or-nothing, and the proceeds leave the instance in one
// aggregate transfer. Referral bonuses across the batch are paid to the
// referrer in a single aggregated transfer with one referral-paid event.
// Claims remain callable while the engine is paused.
func (e *Engine) Claim(ctx context.Context, user common.Address, epochs []uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, referrer, err := e.computeClaims(ctx, user, epochs)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	referrerTotal := new(big.Int)
	residualTotal := new(big.Int)
	for _, entry := range entries {
		total.Add(total, entry.payout)
		referrerTotal.Add(referrerTotal, entry.referrerBonus)
		residualTotal.Add(residualTotal, entry.residual)
	}

	if total.Sign() > 0 {
		if err := e.token.Transfer(ctx, e.address, user, total); err != nil {
			return nil, fmt.Errorf("engine: claim payout: %w", err)
		}
	}
	if referrerTotal.Sign() > 0 {
		if err := e.token.Transfer(ctx, e.address, referrer, referrerTotal); err != nil {
			// Unwind the payout so a failed referral push cannot strand a
			// half-applied claim.
			if undoErr := e.token.Transfer(ctx, user, e.address, total); undoErr != nil {
				e.logger.ErrorContext(ctx, "claim unwind failed",
					slog.String("user", user.Hex()),
					slog.String("error", undoErr.Error()),
				)
			}
			return nil, fmt.Errorf("engine: referral payout: %w", err)
		}
	}

	// Odd units of uneven referral splits stay on the instance account and
	// become claimable treasury.
	e.treasuryAmount.Add(e.treasuryAmount, residualTotal)

	referralRounds := 0
	for _, entry := range entries {
		entry.bet.Claimed = true
		if entry.referrerBonus.Sign() > 0 {
			referralRounds++
		}
		e.emit(ctx, domain.Event{
			Type:   domain.EventClaim,
			Epoch:  entry.epoch,
			User:   user,
			Amount: new(big.Int).Set(entry.payout),
		})
	}
	if referrerTotal.Sign() > 0 {
		e.emit(ctx, domain.Event{
			Type:           domain.EventReferralPaid,
			User:           user,
			Referrer:       referrer,
			Amount:         new(big.Int).Set(referrerTotal),
			ReferralRounds: referralRounds,
		})
	}

	e.logger.InfoContext(ctx, "claim paid",
		slog.String("user", user.Hex()),
		slog.Int("epochs", len(entries)),
		slog.String("total", total.String()),
	)
	return total, nil
}

// ClaimTreasury transfers the accumulated protocol fee to the admin.
func (e *Engine) ClaimTreasury(ctx context.Context, caller common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}

	amount := new(big.Int).Set(e.treasuryAmount)
	if amount.Sign() > 0 {
		if err := e.token.Transfer(ctx, e.address, e.params.Admin(), amount); err != nil {
			return nil, fmt.Errorf("engine: treasury payout: %w", err)
		}
	}
	e.treasuryAmount.SetInt64(0)

	e.emit(ctx, domain.Event{Type: domain.EventTreasuryClaim, Amount: amount})
	return amount, nil
}

// ---- circuit breaker ----

// Pause halts genesis, execute, and betting. Claims stay live.
func (e *Engine) Pause(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperatorOrAdmin(caller); err != nil {
		return err
	}
	if e.paused {
		return domain.ErrPaused
	}
	e.paused = true
	e.logger.WarnContext(ctx, "paused", slog.Uint64("epoch", e.currentEpoch))
	e.emit(ctx, domain.Event{Type: domain.EventPause, Epoch: e.currentEpoch})
	return nil
}

// Unpause re-arms the instance. The genesis flags reset so the pipeline
// restarts from a fresh genesis after the outage; in-flight rounds stay on
// the refund path.
func (e *Engine) Unpause(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperatorOrAdmin(caller); err != nil {
		return err
	}
	if !e.paused {
		return domain.ErrNotPaused
	}
	e.paused = false
	e.genesisStarted = false
	e.genesisLocked = false
	e.logger.InfoContext(ctx, "unpaused", slog.Uint64("epoch", e.currentEpoch))
	e.emit(ctx, domain.Event{Type: domain.EventUnpause, Epoch: e.currentEpoch})
	return nil
}

// SetOperator replaces the operator address. Admin-only.
func (e *Engine) SetOperator(ctx context.Context, caller, operator common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if operator == domain.ZeroAddress {
		return domain.ErrZeroAddress
	}
	e.operator = operator
	e.emit(ctx, domain.Event{Type: domain.EventParamChanged, Param: "operator", Value: operator.Hex()})
	return nil
}

// ---- views ----

// CurrentEpoch returns the bettable epoch (0 before genesis).
func (e *Engine) CurrentEpoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentEpoch
}

// Paused reports the circuit-breaker state.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// GenesisStarted reports whether the current genesis cycle has started.
func (e *Engine) GenesisStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.genesisStarted
}

// GenesisLocked reports whether the current genesis cycle completed its lock.
func (e *Engine) GenesisLocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.genesisLocked
}

// TreasuryAmount returns the unclaimed protocol fee.
func (e *Engine) TreasuryAmount() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.treasuryAmount)
}

// RoundInfo returns a copy of the round record for epoch, or nil.
func (e *Engine) RoundInfo(epoch uint64) *domain.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	round := e.book.Round(epoch)
	if round == nil {
		return nil
	}
	return round.Clone()
}

// BetOf returns a copy of the user's bet in epoch, or nil.
func (e *Engine) BetOf(epoch uint64, user common.Address) *domain.BetInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	bet := e.book.Bet(epoch, user)
	if bet == nil {
		return nil
	}
	return bet.Clone()
}

// Claimable reports whether user currently holds an unclaimed winning stake
// in epoch.
func (e *Engine) Claimable(epoch uint64, user common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return settlement.Claimable(e.book.Round(epoch), e.book.Bet(epoch, user))
}

// Refundable reports whether user's stake in epoch takes the refund path.
func (e *Engine) Refundable(epoch uint64, user common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return settlement.Refundable(e.book.Round(epoch), e.book.Bet(epoch, user), e.now().Unix(), e.params.BufferSeconds())
}

// UserRounds pages through the user's participation index.
func (e *Engine) UserRounds(user common.Address, cursor, size uint64) ([]domain.UserRound, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.UserRounds(user, cursor, size)
}

// UserRoundsLength returns the user's participation count.
func (e *Engine) UserRoundsLength(user common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.UserRoundsLength(user)
}

// ---- helpers ----

func (e *Engine) requireOperator(caller common.Address) error {
	if caller != e.operator {
		return domain.ErrNotOperator
	}
	return nil
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.params.Admin() {
		return domain.ErrNotAdmin
	}
	return nil
}

func (e *Engine) requireOperatorOrAdmin(caller common.Address) error {
	if caller != e.operator && caller != e.params.Admin() {
		return domain.ErrNotOperatorOrAdmin
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.emitter == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.InstanceID = e.id
	ev.At = e.now()
	e.emitter.Emit(ctx, ev)
}
