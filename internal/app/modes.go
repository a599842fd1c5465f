package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/hyperpredict/predictd/internal/config"
	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/server"
	"github.com/hyperpredict/predictd/internal/server/handler"
	"github.com/hyperpredict/predictd/internal/server/middleware"
)

// createInstances registers every configured pair with the registry. Pairs
// without their own operator inherit the scheduler's.
func (a *App) createInstances(ctx context.Context, deps *Dependencies) error {
	admin := common.HexToAddress(a.cfg.Params.Admin)
	for _, pair := range a.cfg.Pairs {
		operator := pair.Operator
		if operator == "" {
			operator = a.cfg.Scheduler.Operator
		}
		info, err := deps.Registry.CreateInstance(ctx, admin, domain.InstanceSpec{
			Symbol:          pair.Symbol,
			PriceFeedID:     pair.PriceFeedID,
			Operator:        common.HexToAddress(operator),
			IntervalSeconds: pair.IntervalSeconds,
		})
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "instance registered",
			slog.String("instance", info.ID),
			slog.String("symbol", info.Symbol),
			slog.Int64("interval_seconds", info.IntervalSeconds),
		)
	}
	return nil
}

// ServerMode runs the HTTP/WebSocket API plus the history recorder; round
// transitions are left to operator nodes.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startRecorder(ctx, g, deps)
	a.startHub(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// OperatorMode drives round transitions without exposing the API.
func (a *App) OperatorMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startRecorder(ctx, g, deps)
	a.startScheduler(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything in one process: API, scheduler, recorder, hub.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startRecorder(ctx, g, deps)
	a.startHub(ctx, g, deps)
	a.startScheduler(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startRecorder(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Recorder == nil {
		return
	}
	g.Go(func() error { return deps.Recorder.Run(ctx) })
}

func (a *App) startHub(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Hub == nil {
		return
	}
	g.Go(func() error {
		err := deps.Hub.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Scheduler == nil {
		a.logger.Warn("scheduler disabled; rounds will not advance on this node")
		return
	}
	g.Go(func() error {
		err := deps.Scheduler.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
}

// startHTTPServer assembles the handlers, builds the server, and runs it
// with graceful shutdown tied to ctx.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.Info("http server disabled")
		return
	}

	logger := a.logger.With(slog.String("component", "server"))

	var rounds domain.RoundStore
	if deps.RoundStore != nil {
		rounds = deps.RoundStore
	}
	var bets domain.BetStore
	if deps.BetStore != nil {
		bets = deps.BetStore
	}
	var eventStore domain.EventStore
	if deps.EventStore != nil {
		eventStore = deps.EventStore
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Pingers, logger),
		Instances: handler.NewInstanceHandler(deps.Registry, logger),
		Rounds:    handler.NewRoundHandler(deps.Registry, rounds, logger),
		Bets:      handler.NewBetHandler(deps.Registry, deps.Registry, logger),
		Claims:    handler.NewClaimHandler(deps.Registry, deps.Registry, logger),
		Users:     handler.NewUserHandler(deps.Registry, bets, deps.Bank, logger),
		Referrals: handler.NewReferralHandler(deps.Referrals, logger),
		Events:    handler.NewEventHandler(deps.Registry, eventStore, logger),
		Admin:     handler.NewAdminHandler(deps.Registry, deps.Registry, logger),
	}

	var limiter server.Middleware
	if deps.RateLimiter != nil && a.cfg.Server.RateLimit > 0 {
		limiter = middleware.RateLimit(deps.RateLimiter, a.cfg.Server.RateLimit, a.cfg.Server.RateWindow.Duration)
	}

	srv := server.NewServer(serverConfig(a.cfg), handlers, deps.Hub, limiter, logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// serverConfig maps the file configuration onto the server package's Config.
func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		Auth: middleware.AuthConfig{
			APIKey:  cfg.Server.APIKey,
			KeyHash: cfg.Server.APIKeyHash,
			KeySalt: cfg.Server.APIKeySalt,
		},
		RateLimit:  cfg.Server.RateLimit,
		RateWindow: cfg.Server.RateWindow.Duration,
	}
}
