// Package orchestrator drives the interactive chat loop.
//
// An [Orchestrator] starts the tool servers, builds the system prompt from
// their catalogue, relays user lines to the model gateway, executes the tool
// invocations the model asks for and feeds the results back for a final
// answer. Whatever ends the session (quit command, end of input, an
// interrupt, a startup failure or a panic), every server connection is shut
// down before [Orchestrator.Run] returns.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mcpchat/internal/mcp"
	"github.com/MrWong99/mcpchat/internal/observe"
	"github.com/MrWong99/mcpchat/internal/resilience"
	"github.com/MrWong99/mcpchat/pkg/provider/llm"
)

// State is the lifecycle phase of an [Orchestrator].
type State int

// Phases in the order a session normally passes through them.
const (
	StateIdle State = iota
	StateStarting
	StateAwaitingInput
	StateProcessingTurn
	StateExecutingTool
	StateShuttingDown
	StateTerminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateAwaitingInput:
		return "awaiting-input"
	case StateProcessingTurn:
		return "processing-turn"
	case StateExecutingTool:
		return "executing-tool"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Responder produces the model's reply to a conversation. It never fails;
// an unavailable model yields a degraded reply text instead.
// [gateway.Gateway] is the production implementation.
type Responder interface {
	Respond(ctx context.Context, messages []llm.Message) string
}

// backendStatuser is implemented by responders that can report the health
// of their backends.
type backendStatuser interface {
	Status() []resilience.EntryStatus
}

// Config holds the dependencies of an [Orchestrator].
type Config struct {
	// Host manages the tool servers. Required.
	Host mcp.Host

	// Model answers the conversation. Required.
	Model Responder

	// Input supplies user lines. Required for [Orchestrator.Run].
	Input Input

	// Output receives prompts and replies. Defaults to io.Discard.
	Output io.Writer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Orchestrator runs one chat session. ProcessTurn calls are serialised.
type Orchestrator struct {
	host    mcp.Host
	model   Responder
	input   Input
	out     io.Writer
	log     *slog.Logger
	metrics *observe.Metrics

	state atomic.Int32

	mu       sync.Mutex // serialises turns; guards history and catalog
	history  []llm.Message
	catalog  []mcp.ToolDescriptor
	stopOnce sync.Once
}

// New validates cfg and returns an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Host == nil {
		return nil, errors.New("orchestrator: Host must not be nil")
	}
	if cfg.Model == nil {
		return nil, errors.New("orchestrator: Model must not be nil")
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		host:    cfg.Host,
		model:   cfg.Model,
		input:   cfg.Input,
		out:     cfg.Output,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// History returns a copy of the conversation so far, system prompt included.
func (o *Orchestrator) History() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.history)
}

// Catalog returns the tools that were loaded at start.
func (o *Orchestrator) Catalog() []mcp.ToolDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.catalog)
}

// Start launches every tool server, loads the catalogue and seeds the
// history with the system prompt. A startup failure is returned as is; the
// host has already torn down whatever it started.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("orchestrator: cannot start in state %s", o.State())
	}

	if err := o.host.StartAll(ctx); err != nil {
		return fmt.Errorf("orchestrator: start servers: %w", err)
	}
	tools, err := o.host.Catalog(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: load catalog: %w", err)
	}

	o.mu.Lock()
	o.catalog = tools
	o.history = []llm.Message{{Role: llm.RoleSystem, Content: BuildSystemPrompt(tools)}}
	o.mu.Unlock()
	o.setState(StateAwaitingInput)

	o.log.Info("chat session ready", "tools", len(tools))
	return nil
}

// Shutdown tears down every server connection. It runs at most once and
// never fails.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() {
		o.setState(StateShuttingDown)
		defer o.setState(StateTerminated)
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("panic during shutdown", "panic", r)
			}
		}()
		o.host.ShutdownAll()
		o.log.Info("all servers shut down")
	})
}

// Run starts the session and serves user lines until the user quits, the
// input ends or ctx is cancelled while waiting for input. A turn in progress
// is never cancelled; it runs to completion before Run returns.
//
// Only a startup or input failure is returned. Shutdown runs on every exit
// path, including a panic.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.input == nil {
		return errors.New("orchestrator: Input must not be nil")
	}
	defer o.Shutdown()

	if err := o.Start(ctx); err != nil {
		o.log.Error("startup failed", "err", err)
		return err
	}

	for {
		o.setState(StateAwaitingInput)
		fmt.Fprint(o.out, "You: ")

		line, err := o.input.ReadLine(ctx)
		switch {
		case errors.Is(err, io.EOF):
			fmt.Fprintln(o.out)
			o.log.Info("input closed, exiting")
			return nil
		case err != nil && ctx.Err() != nil:
			fmt.Fprintln(o.out)
			o.log.Info("interrupted, exiting")
			return nil
		case err != nil:
			return fmt.Errorf("orchestrator: read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case isQuit(line):
			o.log.Info("exiting")
			return nil
		case line == "/tools":
			o.printTools()
			continue
		case line == "/stats":
			o.printStats()
			continue
		}

		reply := o.ProcessTurn(context.WithoutCancel(ctx), line)
		fmt.Fprintf(o.out, "Assistant: %s\n\n", reply)

		if ctx.Err() != nil {
			o.log.Info("interrupted, exiting")
			return nil
		}
	}
}

func isQuit(line string) bool {
	return strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit")
}

// ProcessTurn handles one user line and returns the reply shown to the user.
//
// When the model answers with a tool invocation the tool is dispatched, its
// outcome is appended as a system message and the model is asked again for
// the final reply. Tool failures are folded into the conversation and never
// returned.
func (o *Orchestrator) ProcessTurn(ctx context.Context, text string) string {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "orchestrator.turn")
	defer span.End()
	log := observe.Logger(ctx, o.log)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.setState(StateProcessingTurn)
	defer o.setState(StateAwaitingInput)

	o.history = append(o.history, llm.Message{Role: llm.RoleUser, Content: text})
	reply := o.model.Respond(ctx, slices.Clone(o.history))
	log.Debug("model replied", "reply", reply)

	intent, ok := ParseIntent(reply)
	if !ok {
		o.history = append(o.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
		o.metrics.RecordTurn(ctx, "direct", time.Since(start))
		return reply
	}

	span.SetAttributes(attribute.String("tool.name", intent.Tool))
	o.history = append(o.history, llm.Message{Role: llm.RoleAssistant, Content: reply})

	o.setState(StateExecutingTool)
	outcome := o.dispatch(ctx, intent)
	o.setState(StateProcessingTurn)

	o.history = append(o.history, llm.Message{Role: llm.RoleSystem, Content: outcome.Message()})
	final := o.model.Respond(ctx, slices.Clone(o.history))
	o.history = append(o.history, llm.Message{Role: llm.RoleAssistant, Content: final})

	o.metrics.RecordTurn(ctx, "tool", time.Since(start))
	return final
}

func (o *Orchestrator) dispatch(ctx context.Context, intent Intent) mcp.Outcome {
	ctx, span := observe.StartSpan(ctx, "orchestrator.dispatch",
		trace.WithAttributes(attribute.String("tool.name", intent.Tool)))
	defer span.End()
	log := observe.Logger(ctx, o.log)

	log.Info("executing tool", "tool", intent.Tool, "arguments", intent.Arguments)
	result, err := o.host.Dispatch(ctx, intent.Tool, intent.Arguments)
	if err != nil {
		observe.FailSpan(span, err, "")
		log.Error("tool dispatch failed", "tool", intent.Tool, "err", err)
		return mcp.Outcome{Tool: intent.Tool, Err: err}
	}
	return mcp.Outcome{Tool: intent.Tool, Result: result}
}

func (o *Orchestrator) printTools() {
	tools := o.Catalog()
	if len(tools) == 0 {
		fmt.Fprintln(o.out, "No tools available.")
		return
	}
	fmt.Fprintln(o.out, FormatCatalog(tools))
}

func (o *Orchestrator) printStats() {
	health := o.host.Health()
	if len(health) == 0 {
		fmt.Fprintln(o.out, "No tool calls yet.")
	}
	for _, h := range health {
		fmt.Fprintf(o.out, "%s/%s: calls=%d p50=%dms p99=%dms errors=%.0f%%\n",
			h.Server, h.Name, h.CallCount, h.MeasuredP50Ms, h.MeasuredP99Ms, h.ErrorRate*100)
	}
	if s, ok := o.model.(backendStatuser); ok {
		for _, b := range s.Status() {
			fmt.Fprintf(o.out, "backend %s: %s\n", b.Name, b.State)
		}
	}
	fmt.Fprintln(o.out)
}
