package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ternhq/tern/internal/config"
	"github.com/ternhq/tern/internal/logger"
	"github.com/ternhq/tern/internal/observability"
	"github.com/ternhq/tern/internal/tracing"
	"github.com/ternhq/tern/pkg/agent"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/gateway"
	"github.com/ternhq/tern/pkg/handoff"
	"github.com/ternhq/tern/pkg/httpapi"
	"github.com/ternhq/tern/pkg/runner"
	"github.com/ternhq/tern/pkg/session"
	"github.com/ternhq/tern/pkg/state"
)

// Daemon owns the wiring and lifecycle of every component: store, event
// registry, state machine, agent registry, runner, handoff coordinator and
// both transports.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store       *session.Store
	events      *events.Registry
	machine     *state.Machine
	agents      *agent.Registry
	runner      *runner.Runner
	coordinator *handoff.Coordinator
	gateway     *gateway.Server
	api         *httpapi.Server
	httpServer  *http.Server

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()
	tracingEnabled := false
	if err := tracing.Setup("ternd", "0.1.0"); err != nil {
		zl := log.GetZerolog()
		zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		tracingEnabled = true
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		tracingEnabled: tracingEnabled,
	}

	if err := d.initialize(); err != nil {
		if d.tracingEnabled {
			_ = tracing.Shutdown(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	return d, nil
}

// initialize builds the components in dependency order.
func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	d.store = session.NewStore(zl)
	d.events = events.NewRegistry(zl)
	d.machine = state.NewMachine(d.store, d.events, zl)

	agents, err := buildAgentRegistry(d.config)
	if err != nil {
		return fmt.Errorf("failed to build agent registry: %w", err)
	}
	d.agents = agents
	zl.Info().Strs("agents", agents.Kinds()).Msg("Agent registry initialized")

	d.runner, err = runner.New(runner.Config{
		Store:   d.store,
		Machine: d.machine,
		Sink:    d.events,
		Agents:  d.agents,
		Logger:  zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	d.coordinator, err = handoff.NewCoordinator(handoff.Config{
		Store:      d.store,
		Catalog:    d.agents,
		Binder:     d.runner,
		Sink:       d.events,
		PendingTTL: time.Duration(d.config.Handoff.PendingTTLMinutes) * time.Minute,
		Logger:     zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create handoff coordinator: %w", err)
	}

	d.gateway, err = gateway.NewServer(gateway.Config{
		Store:             d.store,
		Runner:            d.runner,
		Coordinator:       d.coordinator,
		Agents:            d.agents,
		Events:            d.events,
		HeartbeatInterval: time.Duration(d.config.Server.HeartbeatSeconds) * time.Second,
		Logger:            zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	d.api, err = httpapi.NewServer(httpapi.Config{
		Store:       d.store,
		Runner:      d.runner,
		Coordinator: d.coordinator,
		Agents:      d.agents,
		Events:      d.events,
		WSHandler:   d.gateway.HandleWS,
		Clients:     d.gateway,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create http api: %w", err)
	}

	d.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", d.config.Server.HTTPPort),
		Handler: d.api.Handler(),
	}

	return nil
}

// Reconfigure applies a changed configuration to the running daemon. The
// agent catalog is rebuilt in place, so sessions started after the change
// resolve against the new one; sessions already bound keep their agent.
// Address and port changes still need a restart.
func (d *Daemon) Reconfigure(cfg *config.Config) error {
	agents, err := buildAgentRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to rebuild agent registry: %w", err)
	}
	d.agents.ReplaceAll(agents)

	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().
		Strs("agents", d.agents.Kinds()).
		Msg("Agent registry reconfigured")
	return nil
}

// Start launches the listeners and background workers.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.coordinator.Start()

	zl := d.logger.GetZerolog()
	zl.Info().
		Int("port", d.config.Server.HTTPPort).
		Msg("Starting server")

	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	zl := d.logger.GetZerolog()
	zl.Info().Str("signal", sig.String()).Msg("Received signal")

	return d.Stop()
}

// Stop shuts the daemon down gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Shutting down")

	d.coordinator.Stop()
	d.gateway.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.httpServer.Shutdown(ctx); err != nil {
		zl.Warn().Err(err).Msg("HTTP server shutdown failed")
	}

	for _, sess := range d.store.List() {
		d.runner.Release(sess.ID)
	}

	if d.tracingEnabled {
		if err := tracing.Shutdown(context.Background()); err != nil {
			zl.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}

	zl.Info().Dur("uptime", time.Since(d.startTime)).Msg("Daemon stopped")
	return nil
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}
