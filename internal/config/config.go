// Package config provides the configuration schema, loader, and model
// provider registry for mcpchat.
package config

import (
	"fmt"
	"log/slog"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/MrWong99/mcpchat/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown or empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration is a time.Duration written as a Go duration string ("1s",
// "250ms") in both YAML and JSON.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// String returns the duration in Go notation.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ServerMap is the ordered mapping of server name to launch settings. Iteration
// order is the order in which the servers appear in the file.
type ServerMap = orderedmap.OrderedMap[string, ServerEntry]

// NewServerMap returns an empty [ServerMap].
func NewServerMap() *ServerMap {
	return orderedmap.New[string, ServerEntry]()
}

// Config is the root configuration structure for mcpchat. It is loaded from
// YAML with [Load] or [LoadFromReader], or from the JSON server file format
// with [LoadJSON].
type Config struct {
	// LogLevel controls verbosity. It can be changed while running.
	LogLevel LogLevel `yaml:"log_level" json:"log_level"`

	// Models lists the model backends in priority order. The first one that
	// answers wins.
	Models []ProviderEntry `yaml:"models" json:"models"`

	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Observe    ObserveConfig    `yaml:"observe" json:"observe"`

	// MCPServers maps server names to launch specs. Servers start in this
	// order and shut down in reverse.
	MCPServers *ServerMap `yaml:"mcp_servers" json:"mcpServers"`
}

// ProviderEntry configures one model backend. Name selects the factory
// registered in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ollama",
	// "openai").
	Name string `yaml:"name" json:"name"`

	// Model selects the model within the provider (e.g., "llama3.2").
	Model string `yaml:"model" json:"model"`

	// APIKey authenticates against hosted providers.
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options" json:"options"`
}

// Label identifies the backend in logs, e.g. "ollama/llama3.2".
func (e ProviderEntry) Label() string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// GenerationConfig holds the sampling parameters sent with every request.
type GenerationConfig struct {
	// Temperature defaults to 0.7 when unset.
	Temperature *float64 `yaml:"temperature" json:"temperature"`

	// MaxTokens defaults to 4096 when zero.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// Stream selects streaming completions.
	Stream bool `yaml:"stream" json:"stream"`
}

// RetryConfig controls how tool calls are retried.
type RetryConfig struct {
	// MaxAttempts defaults to 2 when zero.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Backoff is the fixed pause between attempts. Defaults to 1s when zero.
	Backoff Duration `yaml:"backoff" json:"backoff"`
}

// ObserveConfig configures metrics and the admin HTTP server.
type ObserveConfig struct {
	// ListenAddr enables the admin server (/metrics, /healthz, /readyz) when
	// set, e.g. "127.0.0.1:9464".
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// ServiceName is the OTel service name. Defaults to "mcpchat".
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// ServerEntry describes how to launch one MCP server over stdio.
type ServerEntry struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Env     map[string]string `yaml:"env" json:"env"`
}

// DefaultModels is used when no model backend is configured: two local
// Ollama models, tried in order.
var DefaultModels = []ProviderEntry{
	{Name: "ollama", Model: "llama3.2"},
	{Name: "ollama", Model: "deepseek-r1:8b"},
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogInfo
	}
	if len(c.Models) == 0 {
		c.Models = append([]ProviderEntry(nil), DefaultModels...)
	}
	if c.Generation.Temperature == nil {
		t := 0.7
		c.Generation.Temperature = &t
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = 4096
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = mcp.DefaultRetryPolicy.MaxAttempts
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = Duration(mcp.DefaultRetryPolicy.Backoff)
	}
	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = "mcpchat"
	}
	if c.MCPServers == nil {
		c.MCPServers = NewServerMap()
	}
}

// Servers returns the launch specs in configuration order.
func (c *Config) Servers() []mcp.ServerConfig {
	if c.MCPServers == nil {
		return nil
	}
	out := make([]mcp.ServerConfig, 0, c.MCPServers.Len())
	for pair := c.MCPServers.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, mcp.ServerConfig{
			Name:    pair.Key,
			Command: pair.Value.Command,
			Args:    pair.Value.Args,
			Env:     pair.Value.Env,
		})
	}
	return out
}

// RetryPolicy returns the tool retry policy.
func (c *Config) RetryPolicy() mcp.RetryPolicy {
	return mcp.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     time.Duration(c.Retry.Backoff),
	}
}
