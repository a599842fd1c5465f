// Package scheduler drives the round pipelines: a polling loop that, for
// every registered instance, fires the genesis and execute transitions when
// their windows open. With a distributed lock manager configured, several
// nodes can run the scheduler and exactly one drives each instance.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/engine"
)

// EngineSource lists the live engines to drive. The registry satisfies it.
type EngineSource interface {
	Engines() []*engine.Engine
}

// Config carries the scheduler's collaborators and tuning.
type Config struct {
	Source   EngineSource
	Operator common.Address
	// Locks is optional; when set, each instance is driven under the
	// distributed lock "operator:{id}".
	Locks  domain.LockManager
	Logger *slog.Logger
	// PollInterval is how often transition windows are checked.
	PollInterval time.Duration
	// AutoRestart re-arms a pipeline that missed its execution window by
	// cycling pause/unpause, which resets genesis. Stalled rounds stay on
	// the refund path either way.
	AutoRestart bool
}

// Scheduler polls every instance and fires due transitions.
type Scheduler struct {
	source      EngineSource
	operator    common.Address
	locks       domain.LockManager
	logger      *slog.Logger
	poll        time.Duration
	autoRestart bool
}

// New creates a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:      cfg.Source,
		operator:    cfg.Operator,
		locks:       cfg.Locks,
		logger:      logger.With(slog.String("component", "scheduler")),
		poll:        poll,
		autoRestart: cfg.AutoRestart,
	}
}

// Run polls until ctx is cancelled. Instances are driven concurrently
// within each tick; a slow oracle on one feed does not stall the others.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Duration("poll", s.poll))
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			g, tickCtx := errgroup.WithContext(ctx)
			for _, eng := range s.source.Engines() {
				g.Go(func() error {
					s.driveLocked(tickCtx, eng)
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}

// driveLocked drives one instance under its distributed lock when a lock
// manager is configured.
func (s *Scheduler) driveLocked(ctx context.Context, eng *engine.Engine) {
	if s.locks == nil {
		s.drive(ctx, eng)
		return
	}

	unlock, err := s.locks.Acquire(ctx, "operator:"+eng.ID(), 3*s.poll)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			s.logger.Warn("scheduler lock failed",
				slog.String("instance", eng.ID()),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer unlock()
	s.drive(ctx, eng)
}

// drive fires the next due transition on eng. Too-early rejections are the
// normal idle case and stay silent.
func (s *Scheduler) drive(ctx context.Context, eng *engine.Engine) {
	if eng.Paused() {
		return
	}

	var err error
	switch {
	case !eng.GenesisStarted():
		err = eng.GenesisStartRound(ctx, s.operator)
	case !eng.GenesisLocked():
		err = eng.GenesisLockRound(ctx, s.operator)
	default:
		err = eng.ExecuteRound(ctx, s.operator)
	}

	switch {
	case err == nil:
		return
	case errors.Is(err, domain.ErrTooEarlyToLock):
		return
	case errors.Is(err, domain.ErrBufferExceeded):
		s.logger.Warn("instance missed its transition window",
			slog.String("instance", eng.ID()),
			slog.Uint64("epoch", eng.CurrentEpoch()),
		)
		if s.autoRestart {
			s.restart(ctx, eng)
		}
	default:
		s.logger.Error("transition failed",
			slog.String("instance", eng.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// restart cycles pause/unpause so the pipeline re-runs genesis. The stalled
// rounds are left unresolved and refund on their own deadlines.
func (s *Scheduler) restart(ctx context.Context, eng *engine.Engine) {
	if err := eng.Pause(ctx, s.operator); err != nil {
		s.logger.Error("restart pause failed",
			slog.String("instance", eng.ID()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := eng.Unpause(ctx, s.operator); err != nil {
		s.logger.Error("restart unpause failed",
			slog.String("instance", eng.ID()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("instance pipeline restarted", slog.String("instance", eng.ID()))
}
