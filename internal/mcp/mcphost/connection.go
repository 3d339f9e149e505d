package mcphost

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mcpchat/internal/mcp"
	"github.com/MrWong99/mcpchat/internal/observe"
)

// clientVersion is reported to servers during the initialize handshake.
const clientVersion = "1.0.0"

// launchers are bare command names that are resolved against PATH before
// launch. Anything else is executed as given.
var launchers = map[string]bool{
	"npx": true, "uvx": true, "uv": true, "node": true, "python": true,
	"python3": true, "docker": true, "deno": true, "bunx": true,
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// toolSession is the subset of [*mcpsdk.ClientSession] used by a Connection.
type toolSession interface {
	Tools(ctx context.Context, params *mcpsdk.ListToolsParams) iter.Seq2[*mcpsdk.Tool, error]
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

var _ toolSession = (*mcpsdk.ClientSession)(nil)

// Connection is the client side of one MCP server launched as a child
// process and spoken to over stdio.
//
// A Connection is started at most once. Once closed it never becomes ready
// again. All methods are safe for concurrent use.
type Connection struct {
	cfg  mcp.ServerConfig
	opts options
	log  *slog.Logger

	// dial establishes the session. It is replaced in tests.
	dial func(ctx context.Context) (toolSession, error)

	mu          sync.Mutex
	state       mcp.State
	session     toolSession
	closing     bool
	cleanupDone chan struct{}

	statsMu sync.Mutex
	windows map[string]*callWindow
}

// NewConnection creates an unstarted connection for cfg.
func NewConnection(cfg mcp.ServerConfig, opts ...Option) *Connection {
	c := &Connection{
		cfg:         cfg,
		opts:        newOptions(opts),
		cleanupDone: make(chan struct{}),
		windows:     make(map[string]*callWindow),
	}
	c.log = c.opts.logger.With("server", cfg.Name)
	c.dial = c.dialSDK
	if c.opts.dial != nil {
		c.dial = c.opts.dial
	}
	return c
}

// Name returns the configured server name.
func (c *Connection) Name() string { return c.cfg.Name }

// State returns the current lifecycle state.
func (c *Connection) State() mcp.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the server process and performs the initialize handshake.
//
// On failure the connection is marked [mcp.StateFailed], cleaned up
// immediately, and the returned error wraps [mcp.ErrConfiguration] (the
// launch command could not be resolved) or [mcp.ErrConnection] (launch or
// handshake failed).
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != mcp.StateUnstarted {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("mcphost: start %q: connection is %s: %w", c.cfg.Name, st, mcp.ErrConnection)
	}
	c.state = mcp.StateStarting
	c.mu.Unlock()

	c.log.Info("starting server", "command", c.cfg.Command, "args", c.cfg.Args)

	sess, err := c.dial(ctx)
	if err != nil {
		c.fail(err)
		if errors.Is(err, mcp.ErrConfiguration) {
			return fmt.Errorf("mcphost: start %q: %w", c.cfg.Name, err)
		}
		return fmt.Errorf("mcphost: start %q: %w: %w", c.cfg.Name, mcp.ErrConnection, err)
	}

	c.mu.Lock()
	if c.closing {
		// Cleanup raced with the handshake; the new session has no owner.
		c.mu.Unlock()
		c.closeSession(sess)
		return fmt.Errorf("mcphost: start %q: closed during startup: %w", c.cfg.Name, mcp.ErrConnection)
	}
	c.session = sess
	c.state = mcp.StateReady
	c.mu.Unlock()

	c.opts.metrics.ActiveConnections.Add(ctx, 1)
	c.log.Info("server ready")
	return nil
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if !c.closing {
		c.state = mcp.StateFailed
	}
	c.mu.Unlock()
	c.log.Error("server failed to start", "err", err)
	c.Cleanup()
}

// dialSDK launches the configured command (or uses the injected transport)
// and connects an SDK client to it.
func (c *Connection) dialSDK(ctx context.Context) (toolSession, error) {
	transport := c.opts.transport
	if transport == nil {
		cmd, err := buildCommand(c.cfg)
		if err != nil {
			return nil, err
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "mcpchat", Version: clientVersion},
		&mcpsdk.ClientOptions{
			Logger:                      c.log,
			ProgressNotificationHandler: c.onProgress,
		},
	)
	return client.Connect(ctx, transport, nil)
}

func (c *Connection) onProgress(_ context.Context, req *mcpsdk.ProgressNotificationClientRequest) {
	p := req.Params
	c.log.Info("progress notification",
		"progress", p.Progress,
		"total", p.Total,
		"message", p.Message,
	)
}

// buildCommand resolves the launch command for cfg. The child inherits the
// parent environment; a non-empty cfg.Env is layered on top of it.
func buildCommand(cfg mcp.ServerConfig) (*exec.Cmd, error) {
	name := strings.TrimSpace(cfg.Command)
	if name == "" {
		return nil, fmt.Errorf("%w: server %q has no command", mcp.ErrConfiguration, cfg.Name)
	}
	if launchers[name] {
		resolved, err := lookPath(name)
		if err != nil {
			return nil, fmt.Errorf("%w: server %q: %s not found on PATH: %v", mcp.ErrConfiguration, cfg.Name, name, err)
		}
		name = resolved
	}

	// Not CommandContext: the process must outlive the startup context. The
	// transport terminates it when the session is closed.
	cmd := exec.Command(name, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	}
	return cmd, nil
}

// mergeEnv appends overlay to base in key order. exec.Cmd keeps the last
// value of duplicated keys, so overlay entries win.
func mergeEnv(base []string, overlay map[string]string) []string {
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	env := slices.Clone(base)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}

// readySession returns the live session or an error wrapping
// [mcp.ErrNotInitialized].
func (c *Connection) readySession() (toolSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != mcp.StateReady || c.session == nil {
		return nil, fmt.Errorf("mcphost: server %q is %s: %w", c.cfg.Name, c.state, mcp.ErrNotInitialized)
	}
	return c.session, nil
}

// Discover lists every tool the server advertises, following pagination.
// It does not change any state.
func (c *Connection) Discover(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	sess, err := c.readySession()
	if err != nil {
		return nil, err
	}

	var tools []mcp.ToolDescriptor
	for t, err := range sess.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcphost: list tools on %q: %w", c.cfg.Name, err)
		}
		tools = append(tools, toDescriptor(t, c.cfg.Name))
	}
	c.log.Debug("discovered tools", "count", len(tools))
	return tools, nil
}

// Invoke calls tool with the connection's configured retry policy.
func (c *Connection) Invoke(ctx context.Context, tool string, args map[string]any) (*mcp.ToolResult, error) {
	return c.InvokeWithPolicy(ctx, tool, args, c.opts.retry)
}

// InvokeWithPolicy calls tool, retrying every failure after a fixed pause
// until policy.MaxAttempts attempts have been made. A tool that reports an
// application-level error (IsError) has succeeded at the protocol level and
// is not retried.
//
// Exhaustion returns a [*mcp.ToolExecutionError]. A failed call never
// changes the connection state.
func (c *Connection) InvokeWithPolicy(ctx context.Context, tool string, args map[string]any, policy mcp.RetryPolicy) (*mcp.ToolResult, error) {
	maxAttempts := max(policy.MaxAttempts, 1)
	if args == nil {
		args = map[string]any{}
	}

	ctx, span := observe.StartSpan(ctx, "mcp.call_tool",
		trace.WithAttributes(
			attribute.String("mcp.server", c.cfg.Name),
			attribute.String("mcp.tool", tool),
		),
	)
	defer span.End()
	log := observe.Logger(ctx, c.log).With("tool", tool)

	var (
		lastErr  error
		attempts int
	)
	for attempts < maxAttempts {
		sess, err := c.readySession()
		if err != nil {
			if attempts == 0 {
				observe.FailSpan(span, err, "")
				return nil, err
			}
			lastErr = err
			break
		}

		attempts++
		log.Info("executing tool", "attempt", attempts, "max_attempts", maxAttempts)

		start := time.Now()
		res, err := c.callOnce(ctx, sess, tool, args)
		elapsed := time.Since(start)
		c.record(ctx, tool, elapsed, err != nil || (res != nil && res.IsError))

		if err == nil {
			res.Duration = elapsed
			if res.Progress != nil {
				log.Info("tool progress", "done", res.Progress.Done, "total", res.Progress.Total,
					"percent", fmt.Sprintf("%.1f", res.Progress.Percent()))
			}
			log.Info("tool executed", "attempt", attempts, "duration", elapsed, "is_error", res.IsError)
			c.opts.metrics.RecordToolCall(ctx, tool, "ok")
			span.SetAttributes(attribute.Int("mcp.attempts", attempts))
			return res, nil
		}

		lastErr = err
		log.Warn("tool execution failed", "attempt", attempts, "max_attempts", maxAttempts, "err", err)
		if attempts < maxAttempts {
			c.opts.metrics.RecordToolRetry(ctx, tool)
			log.Info("retrying tool", "backoff", policy.Backoff)
			if err := c.opts.sleep(ctx, policy.Backoff); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
	}

	execErr := &mcp.ToolExecutionError{Tool: tool, Server: c.cfg.Name, Attempts: attempts, Err: lastErr}
	log.Error("tool failed", "attempts", attempts, "err", lastErr)
	c.opts.metrics.RecordToolCall(ctx, tool, "error")
	observe.FailSpan(span, execErr, "")
	return nil, execErr
}

// callOnce performs a single tools/call round trip.
func (c *Connection) callOnce(ctx context.Context, sess toolSession, tool string, args map[string]any) (*mcp.ToolResult, error) {
	res, err := sess.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("mcphost: tool %q returned an empty response", tool)
	}

	var texts []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return &mcp.ToolResult{
		Tool:       tool,
		Server:     c.cfg.Name,
		Content:    strings.Join(texts, "\n"),
		Structured: res.StructuredContent,
		IsError:    res.IsError,
		Progress:   progressOf(res.StructuredContent),
	}, nil
}

// progressOf reads a progress report from structured content carrying both
// a "progress" and a "total" number.
func progressOf(structured any) *mcp.Progress {
	m, ok := structured.(map[string]any)
	if !ok {
		return nil
	}
	done, ok1 := toFloat(m["progress"])
	total, ok2 := toFloat(m["total"])
	if !ok1 || !ok2 {
		return nil
	}
	return &mcp.Progress{Done: done, Total: total}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (c *Connection) record(ctx context.Context, tool string, d time.Duration, failed bool) {
	c.statsMu.Lock()
	w, ok := c.windows[tool]
	if !ok {
		w = newCallWindow(c.opts.windowSize)
		c.windows[tool] = w
	}
	c.statsMu.Unlock()

	w.Record(d, failed)
	c.opts.metrics.RecordToolAttempt(ctx, tool, d)
}

// Health returns call statistics for every tool invoked on this connection,
// sorted by tool name.
func (c *Connection) Health() []mcp.ToolHealth {
	c.statsMu.Lock()
	names := make([]string, 0, len(c.windows))
	for name := range c.windows {
		names = append(names, name)
	}
	windows := make(map[string]*callWindow, len(c.windows))
	for name, w := range c.windows {
		windows[name] = w
	}
	c.statsMu.Unlock()

	slices.Sort(names)
	out := make([]mcp.ToolHealth, 0, len(names))
	for _, name := range names {
		st := windows[name].Snapshot()
		out = append(out, mcp.ToolHealth{
			Name:          name,
			Server:        c.cfg.Name,
			MeasuredP50Ms: st.P50Ms,
			MeasuredP99Ms: st.P99Ms,
			CallCount:     st.Count,
			ErrorRate:     st.ErrorRate,
		})
	}
	return out
}

// Cleanup closes the session and terminates the server process. It may be
// called any number of times from any goroutine: the first call performs the
// release and later or concurrent calls wait for it to finish. Errors and
// panics during release are logged, never returned. The connection always
// ends in [mcp.StateClosed].
func (c *Connection) Cleanup() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.cleanupDone
		return
	}
	c.closing = true
	wasReady := c.state == mcp.StateReady
	sess := c.session
	c.session = nil
	c.state = mcp.StateCleaning
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = mcp.StateClosed
		c.mu.Unlock()
		close(c.cleanupDone)
		c.log.Info("server closed")
	}()

	if wasReady {
		c.opts.metrics.ActiveConnections.Add(context.Background(), -1)
	}
	if sess != nil {
		c.closeSession(sess)
	}
}

// closeSession releases sess, absorbing errors and panics.
func (c *Connection) closeSession(sess toolSession) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic while closing server session", "panic", r)
		}
	}()
	if err := sess.Close(); err != nil {
		c.log.Warn("error closing server session", "err", err)
	}
}
