// Package app wires the mcpchat subsystems into a running chat session.
//
// The App struct owns the full lifecycle: New builds the model gateway, the
// MCP server pool, the orchestrator and the optional admin server, Run
// executes the chat loop, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHost, WithInput,
// etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mcpchat/internal/config"
	"github.com/MrWong99/mcpchat/internal/gateway"
	"github.com/MrWong99/mcpchat/internal/health"
	"github.com/MrWong99/mcpchat/internal/mcp"
	"github.com/MrWong99/mcpchat/internal/mcp/mcphost"
	"github.com/MrWong99/mcpchat/internal/observe"
	"github.com/MrWong99/mcpchat/internal/orchestrator"
	"github.com/MrWong99/mcpchat/pkg/provider/llm"
)

// adminShutdownTimeout bounds the graceful stop of the admin server.
const adminShutdownTimeout = 5 * time.Second

// Providers holds one model backend per entry of config.Models, in the same
// order. Populated by main.go via the config registry.
type Providers struct {
	LLMs []llm.Provider
}

// App owns all subsystem lifetimes of one chat session.
type App struct {
	cfg       *config.Config
	providers *Providers

	log      *slog.Logger
	level    *slog.LevelVar
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer

	input      orchestrator.Input
	output     io.Writer
	configPath string

	// Subsystems, initialised in New and torn down in Shutdown.
	host    mcp.Host
	gw      *gateway.Gateway
	orch    *orchestrator.Orchestrator
	admin   *http.Server
	adminLn net.Listener
	watcher *config.Watcher

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHost injects an MCP host instead of launching the configured servers.
func WithHost(h mcp.Host) Option {
	return func(a *App) { a.host = h }
}

// WithInput sets the source of user lines. Default: stdin.
func WithInput(in orchestrator.Input) Option {
	return func(a *App) { a.input = in }
}

// WithOutput sets where prompts and replies are written. Default: stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets a config reload change the log level of the running
// session.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry served on /metrics. Default:
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithConfigWatch polls the config file at path and applies log level
// changes while running. Other changes are reported as needing a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It does not start
// any MCP server; that happens in Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		gatherer:  prometheus.DefaultGatherer,
		output:    os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.input == nil {
		a.input = orchestrator.NewLineReader(os.Stdin)
	}

	// ── 1. Model gateway ─────────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 2. MCP host ──────────────────────────────────────────────────────
	a.initHost()

	// ── 3. Orchestrator ──────────────────────────────────────────────────
	orch, err := orchestrator.New(orchestrator.Config{
		Host:    a.host,
		Model:   a.gw,
		Input:   a.input,
		Output:  a.output,
		Logger:  a.log,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	a.orch = orch
	a.closers = append(a.closers, func() error {
		orch.Shutdown()
		return nil
	})

	// ── 4. Admin server ──────────────────────────────────────────────────
	if err := a.initAdmin(); err != nil {
		return nil, fmt.Errorf("app: init admin server: %w", err)
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		a.closeAdminListener()
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initGateway() error {
	if a.providers == nil || len(a.providers.LLMs) == 0 {
		return errors.New("no model backends configured")
	}
	if len(a.providers.LLMs) != len(a.cfg.Models) {
		return fmt.Errorf("got %d providers for %d configured models", len(a.providers.LLMs), len(a.cfg.Models))
	}

	backends := make([]gateway.Backend, len(a.providers.LLMs))
	for i, p := range a.providers.LLMs {
		backends[i] = gateway.Backend{Name: a.cfg.Models[i].Label(), Provider: p}
	}

	params := gateway.DefaultParams()
	if t := a.cfg.Generation.Temperature; t != nil {
		params.Temperature = *t
	}
	if a.cfg.Generation.MaxTokens > 0 {
		params.MaxTokens = a.cfg.Generation.MaxTokens
	}
	params.Stream = a.cfg.Generation.Stream

	gw, err := gateway.New(backends,
		gateway.WithLogger(a.log),
		gateway.WithMetrics(a.metrics),
		gateway.WithParams(params),
	)
	if err != nil {
		return err
	}
	a.gw = gw
	return nil
}

func (a *App) initHost() {
	if a.host != nil {
		return
	}
	a.host = mcphost.New(a.cfg.Servers(),
		mcphost.WithLogger(a.log),
		mcphost.WithMetrics(a.metrics),
		mcphost.WithRetryPolicy(a.cfg.RetryPolicy()),
	)
}

// initAdmin binds the admin listener so a busy port fails New rather than
// Run.
func (a *App) initAdmin() error {
	addr := a.cfg.Observe.ListenAddr
	if addr == "" {
		return nil
	}

	checkers := []health.Checker{health.BackendsAvailable(a.gw.Status)}
	if r, ok := a.host.(interface{ Ready() error }); ok {
		checkers = append(checkers, health.ServersReady(r.Ready))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.adminLn = ln
	a.admin = &http.Server{
		Handler:           observe.Middleware(a.metrics, a.log)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func (a *App) closeAdminListener() {
	if a.adminLn != nil {
		_ = a.adminLn.Close()
	}
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.onConfigChange, config.WithWatcherLogger(a.log))
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// onConfigChange applies what can change at runtime and reports the rest.
func (a *App) onConfigChange(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if !d.RequiresRestart() {
		return
	}

	servers := make([]string, 0, len(d.ServerChanges))
	for _, sc := range d.ServerChanges {
		servers = append(servers, sc.Name)
	}
	a.log.Warn("config changes take effect after restart",
		"models", d.ModelsChanged,
		"generation", d.GenerationChanged,
		"retry", d.RetryChanged,
		"observe", d.ObserveChanged,
		"servers", servers,
	)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Gateway returns the model gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// AdminAddr returns the bound admin server address, or "" when disabled.
func (a *App) AdminAddr() string {
	if a.adminLn == nil {
		return ""
	}
	return a.adminLn.Addr().String()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the servers and the chat loop and blocks until the user quits,
// input ends, or ctx is cancelled. The admin server, when configured, runs
// alongside and is stopped when the chat loop returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if a.admin != nil {
		g.Go(func() error {
			a.log.Info("admin server listening", "addr", a.AdminAddr())
			if err := a.admin.Serve(a.adminLn); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminShutdownTimeout)
			defer cancel()
			return a.admin.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer stop()
		return a.orch.Run(runCtx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, the remaining ones are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.closeAdminListener()
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
