package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"makerd/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	a, err := app.Bootstrap(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Config.Server.EnablePprof {
		go func() {
			addr := a.Config.Server.PprofListenAddr
			slog.Info("pprof listening", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Warn("pprof server stopped", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting",
		slog.String("app", a.Config.App.Name),
		slog.String("version", a.Config.App.Version),
		slog.String("symbol", a.Config.Trading.Symbol))

	if err := a.Run(ctx); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("stopped")
}
