package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"scripthub/internal/platform"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	appCfg, err := platform.LoadAppConfig()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	platform.InitLogger(appCfg.Flags.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Run embedded NATS server ---
	broker, err := platform.StartBroker(ctx, *appCfg.NatsCfg)
	if err != nil {
		slog.Error("Failed to start embedded server", "err", err)
		os.Exit(1)
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := platform.Bootstrap(ctx, broker.Conn, appCfg, jetstream.FileStorage, reg)
	if err != nil {
		slog.Error("Failed to bootstrap", "err", err)
		cancel()
		return
	}

	var httpErrCh <-chan error
	if !appCfg.Flags.Headless {
		router := platform.NewRouter(app, *appCfg.HTTPSrvCfg, reg, platform.NewHTTPMetrics(reg))
		httpErrCh = platform.RunHTTPServer(ctx, router, *appCfg.HTTPSrvCfg)
	} else {
		// Create a dummy channel that never sends
		ch := make(chan error)
		httpErrCh = ch
	}

	go func() {
		select {
		case err := <-broker.Errors():
			if ctx.Err() == nil {
				slog.Error("Embedded server error", "err", err)
			}
			cancel()
		case err := <-httpErrCh:
			if ctx.Err() == nil {
				slog.Error("HTTP server error", "err", err)
			}
			cancel()
		}
	}()

	app.Wait(ctx)
}
