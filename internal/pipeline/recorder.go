// Package pipeline contains the write-behind history pipeline: the recorder
// consumes engine events and persists round, bet, and event records to the
// durable stores, archiving settled rounds to object storage. The in-memory
// ledger stays authoritative; the pipeline only trails it.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/engine"
)

// InstanceSource resolves instance IDs to live engines so the recorder can
// snapshot current round and bet state. The registry satisfies it.
type InstanceSource interface {
	Instance(id string) (*engine.Engine, error)
}

// RoundArchiver uploads a settled round to cold storage.
type RoundArchiver interface {
	ArchiveRound(ctx context.Context, instanceID string, round *domain.Round) error
}

// Recorder is an event emitter that persists history asynchronously. Emit
// enqueues and never blocks settlement; Run drains the queue until the
// context is cancelled. A full queue drops the event with a warning: durable
// history is best-effort, the ledger is not.
type Recorder struct {
	source    InstanceSource
	rounds    domain.RoundStore
	bets      domain.BetStore
	events    domain.EventStore
	instances *InstanceRecorder
	archiver  RoundArchiver
	logger    *slog.Logger

	queue chan domain.Event
}

// InstanceRecorder persists instance records; nil disables it.
type InstanceRecorder struct {
	Store interface {
		UpsertInstance(ctx context.Context, info domain.InstanceInfo) error
	}
}

// RecorderConfig carries the recorder's collaborators. Archiver and
// Instances may be nil.
type RecorderConfig struct {
	Source    InstanceSource
	Rounds    domain.RoundStore
	Bets      domain.BetStore
	Events    domain.EventStore
	Instances *InstanceRecorder
	Archiver  RoundArchiver
	Logger    *slog.Logger
	QueueSize int
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		source:    cfg.Source,
		rounds:    cfg.Rounds,
		bets:      cfg.Bets,
		events:    cfg.Events,
		instances: cfg.Instances,
		archiver:  cfg.Archiver,
		logger:    logger.With(slog.String("component", "recorder")),
		queue:     make(chan domain.Event, size),
	}
}

// Emit enqueues ev for persistence. Never blocks.
func (r *Recorder) Emit(_ context.Context, ev domain.Event) {
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("recorder queue full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.String("instance", ev.InstanceID),
		)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is already
// enqueued.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info("recorder started")
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.record(context.Background(), ev)
				default:
					r.logger.Info("recorder stopped")
					return ctx.Err()
				}
			}
		case ev := <-r.queue:
			r.record(ctx, ev)
		}
	}
}

// record persists one event and the state it implies. Persistence failures
// are logged and skipped; the stream continues.
func (r *Recorder) record(ctx context.Context, ev domain.Event) {
	if err := r.events.InsertEvent(ctx, ev); err != nil {
		r.logger.Error("event insert failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	switch ev.Type {
	case domain.EventRoundStart, domain.EventRoundLock:
		r.recordRound(ctx, ev.InstanceID, ev.Epoch, false)
	case domain.EventRoundEnd:
		r.recordRound(ctx, ev.InstanceID, ev.Epoch, true)
	case domain.EventBetPlaced:
		r.recordBet(ctx, ev.InstanceID, ev.Epoch, ev.User)
		r.recordRound(ctx, ev.InstanceID, ev.Epoch, false)
	case domain.EventClaim:
		r.recordBet(ctx, ev.InstanceID, ev.Epoch, ev.User)
	case domain.EventInstanceCreated:
		r.recordInstance(ctx, ev.InstanceID)
	}
}

func (r *Recorder) recordRound(ctx context.Context, instanceID string, epoch uint64, settled bool) {
	eng, err := r.source.Instance(instanceID)
	if err != nil {
		r.logger.Warn("unknown instance in event stream", slog.String("instance", instanceID))
		return
	}
	round := eng.RoundInfo(epoch)
	if round == nil {
		return
	}
	if err := r.rounds.UpsertRound(ctx, instanceID, round); err != nil {
		r.logger.Error("round upsert failed",
			slog.String("instance", instanceID),
			slog.Uint64("epoch", epoch),
			slog.String("error", err.Error()),
		)
		return
	}
	if settled && r.archiver != nil && round.Resolved {
		if err := r.archiver.ArchiveRound(ctx, instanceID, round); err != nil {
			r.logger.Error("round archive failed",
				slog.String("instance", instanceID),
				slog.Uint64("epoch", epoch),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Recorder) recordBet(ctx context.Context, instanceID string, epoch uint64, user common.Address) {
	eng, err := r.source.Instance(instanceID)
	if err != nil {
		return
	}
	bet := eng.BetOf(epoch, user)
	if bet == nil {
		return
	}
	if err := r.bets.UpsertBet(ctx, instanceID, epoch, user, bet); err != nil {
		r.logger.Error("bet upsert failed",
			slog.String("instance", instanceID),
			slog.Uint64("epoch", epoch),
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Recorder) recordInstance(ctx context.Context, instanceID string) {
	if r.instances == nil {
		return
	}
	eng, err := r.source.Instance(instanceID)
	if err != nil {
		return
	}
	if err := r.instances.Store.UpsertInstance(ctx, eng.Info()); err != nil {
		r.logger.Error("instance upsert failed",
			slog.String("instance", instanceID),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ domain.EventEmitter = (*Recorder)(nil)
