// Package openai provides an LLM provider backed by the OpenAI API or any
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/mcpchat/pkg/provider/llm"
)

// Provider implements llm.Provider over the chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries a failed request. Negative
// values keep the SDK default. Fallback across backends is handled by the
// gateway, so callers usually want 0.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New returns a provider for model. apiKey is required; point
// [WithBaseURL] at any OpenAI-compatible server (vLLM, LM Studio, Ollama's
// /v1 endpoint) to use it instead of api.openai.com.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}
	return &Provider{client: oai.NewClient(cfg.requestOptions(apiKey)...), model: model}, nil
}

func (c *config) requestOptions(apiKey string) []option.RequestOption {
	out := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		out = append(out, option.WithBaseURL(c.baseURL))
	}
	if c.organization != "" {
		out = append(out, option.WithOrganization(c.organization))
	}
	if c.timeout > 0 {
		out = append(out, option.WithHTTPClient(&http.Client{Timeout: c.timeout}))
	}
	if c.maxRetries >= 0 {
		out = append(out, option.WithMaxRetries(c.maxRetries))
	}
	return out
}

// String returns "openai/model", used in logs.
func (p *Provider) String() string { return "openai/" + p.model }

// chunkStream is the part of the SDK's SSE stream read by [pump].
type chunkStream interface {
	Next() bool
	Current() oai.ChatCompletionChunk
	Err() error
	Close() error
}

// StreamCompletion implements llm.Provider. A request the server rejects
// fails here; a failure after the first byte arrives as an error chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go pump(ctx, stream, ch)
	return ch, nil
}

// pump forwards text deltas and the finish reason from s to ch, then closes
// both. Keep-alive chunks without text or finish reason are dropped.
func pump(ctx context.Context, s chunkStream, ch chan<- llm.Chunk) {
	defer close(ch)
	defer s.Close()

	send := func(c llm.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for s.Next() {
		cur := s.Current()
		if len(cur.Choices) == 0 {
			continue
		}
		choice := cur.Choices[0]
		if choice.Delta.Content == "" && choice.FinishReason == "" {
			continue
		}
		if !send(llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}) {
			return
		}
	}
	if err := s.Err(); err != nil {
		send(llm.Chunk{FinishReason: llm.FinishReasonError, Text: fmt.Sprintf("openai: stream: %v", err)})
	}
}

// Complete implements llm.Provider. When the model refuses and sends no
// content, the refusal text is the reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	msg := resp.Choices[0].Message
	content := msg.Content
	if content == "" {
		content = msg.Refusal
	}
	return &llm.CompletionResponse{
		Content: content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildParams maps req onto the SDK request. Zero temperature and max
// tokens are left unset so the server defaults apply.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, len(req.Messages)),
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			params.Messages[i] = oai.SystemMessage(m.Content)
		case llm.RoleUser:
			params.Messages[i] = oai.UserMessage(m.Content)
		case llm.RoleAssistant:
			params.Messages[i] = oai.AssistantMessage(m.Content)
		default:
			return params, fmt.Errorf("openai: message %d: unknown role %q", i, m.Role)
		}
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}
