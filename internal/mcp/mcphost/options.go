package mcphost

import (
	"context"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mcpchat/internal/mcp"
	"github.com/MrWong99/mcpchat/internal/observe"
)

// Option configures a [Connection] or a [Pool].
type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    *observe.Metrics
	retry      mcp.RetryPolicy
	windowSize int
	transport  mcpsdk.Transport
	sleep      func(ctx context.Context, d time.Duration) error
	dial       func(ctx context.Context) (toolSession, error)
}

func newOptions(opts []Option) options {
	o := options{
		retry:      mcp.DefaultRetryPolicy,
		windowSize: defaultWindowSize,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRetryPolicy sets the policy used by [Connection.Invoke].
// Default: [mcp.DefaultRetryPolicy].
func WithRetryPolicy(p mcp.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithWindowSize sets how many recent attempts per tool feed the health
// statistics. Default: 100.
func WithWindowSize(n int) Option {
	return func(o *options) { o.windowSize = n }
}

// WithTransport connects over t instead of launching the configured command.
// Useful for in-process servers.
func WithTransport(t mcpsdk.Transport) Option {
	return func(o *options) { o.transport = t }
}

// withSleep replaces the retry pause.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// withDialer replaces session establishment entirely.
func withDialer(fn func(ctx context.Context) (toolSession, error)) Option {
	return func(o *options) { o.dial = fn }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
