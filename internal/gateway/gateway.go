// Package gateway sends a conversation to the configured model backends and
// returns the first answer any of them produces.
//
// Backends are tried in priority order through a [resilience.FallbackGroup].
// A backend whose circuit breaker is open moves to the back of the line: it
// is still called when no healthy backend answers, so a recovered backend is
// used again right away. [Gateway.Respond] never returns an error: when no
// backend answers it returns [DegradedMessage] so the conversation can go on.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mcpchat/internal/observe"
	"github.com/MrWong99/mcpchat/internal/resilience"
	"github.com/MrWong99/mcpchat/pkg/provider/llm"
)

// DegradedMessage is the reply used when every backend failed.
const DegradedMessage = "No model backend answered. Check that the configured backends are reachable."

// errNoResponse marks a backend that returned neither a response nor an
// error.
var errNoResponse = errors.New("gateway: backend returned no response")

// Backend is one named model backend.
type Backend struct {
	Name     string
	Provider llm.Provider
}

// Params are the generation parameters sent with every request.
type Params struct {
	Temperature float64
	MaxTokens   int

	// Stream selects StreamCompletion over Complete. Streamed chunks are
	// concatenated into a single reply.
	Stream bool
}

// DefaultParams returns temperature 0.7, 4096 max tokens, no streaming.
func DefaultParams() Params {
	return Params{Temperature: 0.7, MaxTokens: 4096}
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithParams overrides the generation parameters.
func WithParams(p Params) Option {
	return func(g *Gateway) { g.params = p }
}

// WithCircuitBreaker sets the breaker template used for every backend.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Gateway) { g.breaker = cfg }
}

// Gateway is the model gateway of one chat session. It is safe for
// concurrent use.
type Gateway struct {
	log     *slog.Logger
	metrics *observe.Metrics
	params  Params
	breaker resilience.CircuitBreakerConfig
	group   *resilience.FallbackGroup[llm.Provider]
}

// New creates a gateway over backends, highest priority first.
func New(backends []Backend, opts ...Option) (*Gateway, error) {
	if len(backends) == 0 {
		return nil, errors.New("gateway: at least one backend is required")
	}

	g := &Gateway{
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
		params:  DefaultParams(),
	}
	for _, o := range opts {
		o(g)
	}

	g.group = resilience.NewFallbackGroup[llm.Provider](resilience.FallbackConfig{
		CircuitBreaker: g.breaker,
		RetryOpen:      true,
		Logger:         g.log,
	})
	for i, b := range backends {
		if b.Provider == nil {
			return nil, fmt.Errorf("gateway: backend %d (%q) has no provider", i, b.Name)
		}
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("backend-%d", i)
		}
		g.group.Add(name, b.Provider)
	}
	return g, nil
}

// Params returns the generation parameters in use.
func (g *Gateway) Params() Params { return g.params }

// Status returns the circuit breaker state of every backend in priority
// order.
func (g *Gateway) Status() []resilience.EntryStatus { return g.group.Status() }

// Respond sends messages to the first backend that answers and returns its
// reply. Failures are logged and the next backend is tried. Every backend is
// tried at least once per call, those with an open breaker last. When none
// answers, Respond returns [DegradedMessage].
func (g *Gateway) Respond(ctx context.Context, messages []llm.Message) string {
	ctx, span := observe.StartSpan(ctx, "gateway.respond",
		trace.WithAttributes(attribute.Int("messages", len(messages))))
	defer span.End()

	req := llm.CompletionRequest{
		Messages:    messages,
		Temperature: g.params.Temperature,
		MaxTokens:   g.params.MaxTokens,
	}

	reply, err := resilience.ExecuteWithResult(ctx, g.group,
		func(ctx context.Context, name string, p llm.Provider) (string, error) {
			return g.attempt(ctx, name, p, req)
		})
	if err != nil {
		observe.FailSpan(span, err, "no backend answered")
		observe.Logger(ctx, g.log).Error("no model backend answered", "err", err)
		return DegradedMessage
	}
	return reply
}

func (g *Gateway) attempt(ctx context.Context, name string, p llm.Provider, req llm.CompletionRequest) (string, error) {
	ctx, span := observe.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String("llm.backend", name),
			attribute.Bool("llm.stream", g.params.Stream),
		))
	defer span.End()

	start := time.Now()
	var (
		reply string
		err   error
	)
	if g.params.Stream {
		reply, err = collect(ctx, p, req)
	} else {
		reply, err = complete(ctx, p, req)
	}
	elapsed := time.Since(start)

	log := observe.Logger(ctx, g.log)
	if err != nil {
		observe.FailSpan(span, err, "")
		g.metrics.RecordProviderRequest(ctx, name, "error", elapsed)
		log.Warn("model backend failed", "backend", name, "duration", elapsed, "err", err)
		return "", err
	}
	g.metrics.RecordProviderRequest(ctx, name, "ok", elapsed)
	log.Debug("model backend answered", "backend", name, "duration", elapsed, "chars", len(reply))
	return reply, nil
}

func complete(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (string, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errNoResponse
	}
	return resp.Content, nil
}

// collect drains a stream into one reply. An error chunk fails the whole
// attempt; text already received is discarded.
func collect(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (string, error) {
	ch, err := p.StreamCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var streamErr error
	for c := range ch {
		if c.FinishReason == llm.FinishReasonError {
			if streamErr == nil {
				streamErr = fmt.Errorf("gateway: stream failed: %s", c.Text)
			}
			continue
		}
		sb.WriteString(c.Text)
	}
	if streamErr != nil {
		return "", streamErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
