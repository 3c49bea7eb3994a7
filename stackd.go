// Package stackd supervises a local stack of service units: it discovers
// unit descriptors on disk, launches each as a managed child process,
// monitors readiness, reports aggregate status and performs coordinated,
// timeout-bounded shutdown.
package stackd

import (
	"context"
	"log/slog"

	"github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/controller"
	"github.com/loykin/stackd/internal/descriptor"
	"github.com/loykin/stackd/internal/discovery"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/status"
)

// Re-export core types for embedding consumers. These are aliases, so
// conversions are zero-cost.

type Config = config.Config

type Options = controller.Options

type Descriptor = descriptor.Descriptor

type Group = descriptor.Group

type HealthState = health.State

type Snapshot = status.Snapshot

type StopResult = controller.StopResult

const (
	GroupTelemetry = descriptor.GroupTelemetry
	GroupAgent     = descriptor.GroupAgent
	GroupUI        = descriptor.GroupUI
)

// DefaultConfig returns the built-in configuration rooted at dir.
func DefaultConfig(dir string) Config { return config.Default(dir) }

// LoadConfig reads a TOML supervisor config.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Discover scans the units directory without side effects.
func Discover(dir string) ([]Descriptor, []error) { return discovery.Scan(dir) }

// System is a thin facade over the lifecycle controller, providing a stable
// public API for embedding.
type System struct{ ctrl *controller.Controller }

func New(cfg Config, opts Options, logger *slog.Logger) *System {
	return &System{ctrl: controller.New(cfg, opts, logger)}
}

// Run executes the full startup sequence in the foreground and blocks until
// ctx is canceled, then drives the stop sequence exactly once.
func (s *System) Run(ctx context.Context) error { return s.ctrl.Start(ctx) }

// StatusSnapshot returns the in-memory view of a running System.
func (s *System) StatusSnapshot() Snapshot { return s.ctrl.StatusSnapshot() }

// Status reconstructs a snapshot from PID files alone; it works from a
// fresh process that never spawned anything.
func Status(ctx context.Context, cfg Config) Snapshot { return controller.Query(ctx, cfg) }

// Stop terminates a previously started stack via its PID files, in reverse
// startup-group order.
func Stop(ctx context.Context, cfg Config, logger *slog.Logger) StopResult {
	return controller.Stop(ctx, cfg, logger)
}
