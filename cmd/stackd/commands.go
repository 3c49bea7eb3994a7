package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/stackd"
	"github.com/loykin/stackd/internal/logger"
	"github.com/loykin/stackd/internal/metrics"
)

func loadConfig(path string) (stackd.Config, error) {
	if path != "" {
		return stackd.LoadConfig(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return stackd.Config{}, err
	}
	return stackd.DefaultConfig(wd), nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return logger.New(os.Stderr, level, true)
}

func runStart(f StartFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	log := newLogger(f.Verbose)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys := stackd.New(cfg, stackd.Options{
		SkipUI:        f.NoUI || cfg.SkipUI,
		SkipTelemetry: f.NoObservability || cfg.SkipTelemetry,
	}, log)
	return sys.Run(ctx)
}

func runStatus(f StatusFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	snap := stackd.Status(context.Background(), cfg)
	if f.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		snap.Render(os.Stdout)
	}
	if !snap.Healthy() {
		return &exitError{code: 1, msg: "one or more units are unhealthy"}
	}
	return nil
}

func runStop(f StopFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	log := newLogger(false)
	res := stackd.Stop(context.Background(), cfg, log)
	res.Summary().Render(os.Stdout)
	if !res.OK() {
		return &exitError{code: 1, msg: "some units did not stop within the timeout"}
	}
	return nil
}
