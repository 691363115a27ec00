// Package app assembles the process: configuration, logging, storage
// and the wiring between the exchange client, the engine and the API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"makerd/internal/api"
	"makerd/internal/domain"
	"makerd/internal/engine"
	"makerd/internal/infra"
	"makerd/internal/infra/storage"
	"makerd/internal/market"
	"makerd/internal/risk"
	"makerd/internal/standx"
	"makerd/internal/uptime"
)

// App holds every long-lived component of the process.
type App struct {
	Config  *infra.Config
	Storage *storage.Storage

	Signer *standx.Signer
	Client *standx.Client
	Stream *standx.StreamWorker
	Store  *market.Store
	Engine *engine.Engine
	Server *api.Server
	Hub    *api.Hub

	httpSrv *http.Server
}

// Bootstrap loads config, initializes logging and storage, and wires
// all components. Nothing starts running until Run is called.
func Bootstrap(configPath string) (*App, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(infra.NewLogger(cfg))

	store, err := storage.NewStorage()
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	signer := standx.NewSigner()
	if cfg.API.StandX.JWTToken != "" {
		err := signer.SetCredentials(
			cfg.API.StandX.JWTToken,
			cfg.API.StandX.Ed25519Key,
			cfg.API.StandX.WalletAddress,
			cfg.API.StandX.Chain,
		)
		if err != nil {
			return nil, fmt.Errorf("configured credentials rejected: %w", err)
		}
	}

	client := standx.NewClient(cfg.API.StandX.RestURL, signer)
	marketStore := market.NewStore(cfg.Trading.Symbol, 2*cfg.Trading.RefreshInterval())
	stream := standx.NewStreamWorker(cfg.API.StandX.WSURL, cfg.Trading.Symbol, signer, marketStore)

	// Completed hours go straight to the archive. The symbol is read
	// from the market store so archived hours follow symbol switches.
	tracker := uptime.NewTracker(cfg.Trading.UptimeTargetMinutes, func(w uptime.Window) {
		rec := domain.UptimeHourRecord{
			HourStart:           w.HourStart,
			Symbol:              marketStore.Symbol(),
			MakerActiveSeconds:  w.MakerActiveSeconds,
			MMActiveSeconds:     w.MMActiveSeconds,
			TotalElapsedSeconds: w.TotalElapsedSeconds,
			TargetSeconds:       w.TargetSeconds,
			MakerUptimePct:      w.MakerUptimePct(),
			MMUptimePct:         w.MMUptimePct(),
			TargetMet:           w.TargetMet(),
			CreatedAt:           time.Now(),
		}
		if err := store.SaveUptimeHour(&rec); err != nil {
			slog.Warn("failed to archive uptime hour", slog.Any("error", err))
		}
	})
	seedUptime(tracker, store, cfg.Trading.Symbol)

	riskMgr := risk.NewManager(cfg.Trading.Symbol, cfg.Trading.MaxPosition, cfg.Trading.MaxNotional)

	eng, err := engine.New(cfg.Trading, engine.Options{
		Gateway: client,
		Store:   marketStore,
		Stream:  stream,
		Auth:    signer,
		Risk:    riskMgr,
		Tracker: tracker,
		Archive: store,
		Fills:   stream.Fills(),
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	hub := api.NewHub(eng.Snapshot, cfg.Server.BroadcastHz)
	server := api.NewServer(eng, signer, store, hub, cfg.App.Name, cfg.App.Version)

	a := &App{
		Config:  cfg,
		Storage: store,
		Signer:  signer,
		Client:  client,
		Stream:  stream,
		Store:   marketStore,
		Engine:  eng,
		Server:  server,
		Hub:     hub,
	}
	return a, nil
}

// Run starts the stream, the engine loop, the broadcast hub and the
// HTTP server, then blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	// When credentials came from config/env the stream can connect
	// immediately; otherwise POST /api/auth/start brings it up.
	if a.Signer.IsAuthenticated() {
		if err := a.Stream.Connect(ctx); err != nil {
			slog.Warn("initial stream connect failed, will retry in background", slog.Any("error", err))
		}
	}
	a.Server.SetOnAuthenticated(func() error {
		return a.Stream.Connect(ctx)
	})

	go a.Engine.Run(ctx)
	go a.Hub.Run(ctx)

	a.httpSrv = &http.Server{
		Addr:              a.Config.Server.ListenAddr,
		Handler:           a.Server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", a.Config.Server.ListenAddr))
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return a.Shutdown()
}

// Shutdown stops the HTTP server and the stream. The engine cancels
// its own orders when its context ends.
func (a *App) Shutdown() error {
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
	}
	a.Stream.Disconnect()
	if err := a.Storage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// seedUptime warms the tracker's 24h ring from the archive so rolling
// aggregates survive a restart.
func seedUptime(tracker *uptime.Tracker, store *storage.Storage, symbol string) {
	recs, err := store.RecentUptimeHours(symbol, 24)
	if err != nil {
		slog.Warn("failed to load uptime history", slog.Any("error", err))
		return
	}
	// Archive returns newest first, the ring wants oldest first.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	tracker.Seed(recs)
}
