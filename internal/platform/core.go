package platform

import (
	"context"
	"fmt"
	"log/slog"

	"scripthub/internal/console"
	"scripthub/internal/profiles"
	"scripthub/internal/runtime"
	"scripthub/internal/supervisor"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds the long-lived services shared by the HTTP layer.
type App struct {
	JS       jetstream.JetStream
	Profiles *profiles.Store
	Console  *console.Console
	Hub      *runtime.Hub
}

// Bootstrap creates the streams and the profile bucket, then starts the
// console loop and the command hub. Both stop when ctx ends.
func Bootstrap(ctx context.Context, nc *nats.Conn, cfg *AppConfig, storage jetstream.StorageType, reg prometheus.Registerer) (*App, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if err := runtime.EnsureStreams(ctx, js, storage); err != nil {
		return nil, err
	}
	slog.Info("Streams ready", "command", runtime.CommandStream, "event", runtime.EventStream)

	store, err := profiles.Open(ctx, js, storage)
	if err != nil {
		return nil, err
	}
	slog.Info("KV bucket ready", "bucket", profiles.Bucket)

	con := console.New(newSupervisor(cfg.ConsoleCfg))
	go func() {
		if err := con.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Console loop stopped", "err", err)
		}
	}()

	hub := runtime.NewHub(js, con, store, runtime.NewMetrics(reg))
	if err := hub.Start(ctx); err != nil {
		return nil, fmt.Errorf("start hub: %w", err)
	}

	return &App{JS: js, Profiles: store, Console: con, Hub: hub}, nil
}

func newSupervisor(cfg *ConsoleConfig) *supervisor.Supervisor {
	opts := []supervisor.Option{supervisor.WithLogger(slog.Default().With("component", "supervisor"))}
	if cfg == nil {
		return supervisor.New(opts...)
	}
	if cfg.UnbufferedFlag != "" {
		opts = append(opts, supervisor.WithUnbufferedFlag(cfg.UnbufferedFlag))
	}
	if cfg.SearchPaths != nil {
		opts = append(opts, supervisor.WithSearchPaths(cfg.SearchPaths...))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, supervisor.WithDrainTimeout(cfg.DrainTimeout))
	}
	return supervisor.New(opts...)
}

// Wait blocks until ctx ends and the console has torn down its child.
func (a *App) Wait(ctx context.Context) {
	slog.Info("🚀 scripthub is up")
	<-ctx.Done()
	slog.Info("Run: shutdown requested")
	<-a.Console.Done()
}
