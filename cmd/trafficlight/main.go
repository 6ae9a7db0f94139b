// Command trafficlight runs an intersection controller on the tsm engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stateforward/go-tsm"
	"github.com/stateforward/go-tsm/pkg/metrics"
	"github.com/stateforward/go-tsm/pkg/plantuml"
	"github.com/stateforward/go-tsm/pkg/telemetry"
)

func main() {
	var (
		path  = flag.String("config", "", "YAML configuration file")
		flags = DefaultConfig
	)
	flag.IntVar(&flags.Ticks, "ticks", flags.Ticks, "number of ticks before shutdown")
	flag.DurationVar(&flags.Interval, "interval", flags.Interval, "time between ticks")
	flag.IntVar(&flags.WalkEvery, "walk-every", flags.WalkEvery, "press the walk button every n ticks, 0 disables")
	flag.IntVar(&flags.FaultEvery, "fault-every", flags.FaultEvery, "report a lamp fault every n ticks, repaired on the next tick, 0 disables")
	flag.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn or error")
	flag.StringVar(&flags.MetricsAddr, "metrics-addr", flags.MetricsAddr, "serve Prometheus metrics on this address")
	flag.BoolVar(&flags.PlantUML, "plantuml", flags.PlantUML, "print the machine as PlantUML and exit")
	flag.Parse()

	cfg := DefaultConfig
	if *path != "" {
		loaded, err := LoadConfig(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ticks":
			cfg.Ticks = flags.Ticks
		case "interval":
			cfg.Interval = flags.Interval
		case "walk-every":
			cfg.WalkEvery = flags.WalkEvery
		case "fault-every":
			cfg.FaultEvery = flags.FaultEvery
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		case "plantuml":
			cfg.PlantUML = flags.PlantUML
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, out io.Writer) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry, "trafficlight")
	x := newIntersection(tsm.NewEventQueue(), logger,
		tsm.WithContext(ctx),
		tsm.WithTrace(collector.Trace),
		tsm.WithTrace(telemetry.Trace(nil)),
	)
	if err := errors.Join(x.light.Validate(), x.pedestrian.Validate(), x.lamp.Validate()); err != nil {
		return err
	}
	if cfg.PlantUML {
		return plantuml.Generate(out, x.OrthogonalHSM, plantuml.WithEventNames(eventNames))
	}

	if cfg.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	x.OnEntry()
	defer func() {
		x.OnExit()
		x.Logger().Info("stopped", "cycles", x.cycles)
	}()

	q := x.Queue()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for i := 1; i <= cfg.Ticks; i++ {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
		if cfg.WalkEvery > 0 && i%cfg.WalkEvery == 0 {
			q.Push(Walk)
		}
		if cfg.FaultEvery > 0 {
			switch i % cfg.FaultEvery {
			case 0:
				q.Push(Fault)
			case 1 % cfg.FaultEvery:
				if i > 1 {
					q.Push(Repair)
				}
			}
		}
		q.Push(Tick)
	}
	return nil
}
