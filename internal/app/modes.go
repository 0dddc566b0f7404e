package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/market"
	"github.com/alanyoungcy/optionsd/internal/server"
	"github.com/alanyoungcy/optionsd/internal/server/handler"
	"github.com/alanyoungcy/optionsd/internal/server/ws"
	"github.com/alanyoungcy/optionsd/internal/service"
)

const (
	draftMaxIdle       = 24 * time.Hour
	draftPruneInterval = 10 * time.Minute
	shutdownTimeout    = 10 * time.Second
)

// services are the domain services shared by every mode.
type services struct {
	assets   *service.AssetService
	creation *service.CreationService
	exercise *service.ExerciseService
}

func (a *App) buildServices(deps *Dependencies) (*services, error) {
	fees, err := a.cfg.FeeSchedule()
	if err != nil {
		return nil, err
	}

	dir := market.NewDirectory(a.cfg.DomainAssets())
	assets := service.NewAssetService(dir, a.logger)

	// Interface fields stay nil rather than holding typed nil pointers.
	var creator service.MarketCreator
	if deps.Manager != nil {
		creator = deps.Manager
	}
	var creationArchive service.CreationArchiver
	var exerciseArchive service.ExerciseArchiver
	if deps.Archiver != nil {
		creationArchive = deps.Archiver
		exerciseArchive = deps.Archiver
	}
	var creatorAddr string
	if deps.Signer != nil {
		creatorAddr = deps.Signer.Address().Hex()
	}

	creation := service.NewCreationService(service.CreationDeps{
		Assets:   assets,
		Fees:     fees,
		Requests: deps.CreationStore,
		Markets:  deps.MarketStore,
		Audit:    deps.AuditStore,
		Archive:  creationArchive,
		Manager:  creator,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Creator:  creatorAddr,
	}, a.logger)
	if d := a.cfg.Chain.MineTimeout.Duration; d > 0 {
		creation.SetConfirmTimeout(d)
	}

	paySign := ""
	if stable, ok := dir.Lookup(domain.StableAsset); ok {
		paySign = stable.Sign
	}

	binder := deps.Binder
	exercise := service.NewExerciseService(service.ExerciseDeps{
		Binder: service.BinderFunc(func(m, acct string) (service.MarketBinding, error) {
			b, err := binder.Bind(m, acct)
			if err != nil {
				return nil, err
			}
			return b, nil
		}),
		Snapshots: deps.SnapshotCache,
		Locks:     deps.LockManager,
		Attempts:  deps.ExerciseStore,
		Markets:   deps.MarketStore,
		Archive:   exerciseArchive,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
	}, service.ExerciseConfig{
		GasBuffer: uint64(a.cfg.Exercise.GasBuffer),
		LockTTL:   a.cfg.Exercise.LockTTL.Duration,
		PaySign:   paySign,
	}, a.logger)

	return &services{assets: assets, creation: creation, exercise: exercise}, nil
}

// ServerMode serves the HTTP API and the event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)

	err := g.Wait()
	a.drain(svcs)
	return err
}

// WatchMode serves the API and also keeps the configured market and account
// snapshots fresh, pushing views to subscribers as they change.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Int("markets", len(a.cfg.Chain.Markets)),
		slog.Int("accounts", len(a.cfg.Chain.Accounts)),
		slog.Duration("interval", a.cfg.Exercise.RefreshInterval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)

	g.Go(func() error {
		refresh := func() {
			if err := svcs.exercise.RefreshAll(ctx, a.cfg.Chain.Markets, a.cfg.Chain.Accounts); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "watch: refresh failed", slog.String("error", err.Error()))
			}
		}

		refresh()
		ticker := time.NewTicker(a.cfg.Exercise.RefreshInterval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				refresh()
			}
		}
	})

	err := g.Wait()
	a.drain(svcs)
	return err
}

// startWorkers runs the background loops every mode needs: the exercise
// event publisher and the idle-draft reaper.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, svcs *services) {
	g.Go(func() error {
		return svcs.exercise.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(draftPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := svcs.creation.PruneDrafts(draftMaxIdle); n > 0 {
					a.logger.InfoContext(ctx, "pruned idle drafts", slog.Int("count", n))
				}
			}
		}
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to g.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Pattern:        service.ChannelPattern,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Mode:           strings.ToLower(a.cfg.Mode),
		StartedAt:      time.Now().UTC(),
	}, a.logger)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Assets:   handler.NewAssetHandler(svcs.assets, a.logger),
		Drafts:   handler.NewDraftHandler(svcs.creation, a.logger),
		Maturity: handler.NewMaturityHandler(svcs.exercise, a.cfg.Server.RequireSessionSignature, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// drain waits for background creation confirmations and detaches every
// exercise workflow.
func (a *App) drain(svcs *services) {
	svcs.creation.Wait()
	svcs.exercise.Close()
}
