package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/mcpchat/pkg/provider/llm"
)

func TestBuildParams_Roles(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}

	params, err := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	m := params.Messages
	if len(m) != 3 || m[0].OfSystem == nil || m[1].OfUser == nil || m[2].OfAssistant == nil {
		t.Fatalf("messages = %+v, want system, user, assistant", m)
	}
	if params.Temperature.Valid() || params.MaxCompletionTokens.Valid() {
		t.Error("zero temperature and max tokens should be left unset")
	}
}

func TestBuildParams_UnknownRole(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test", "gpt-4o-mini")
	_, err := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: "tool", Content: "x"},
	}})
	if err == nil || !strings.Contains(err.Error(), "message 1") {
		t.Fatalf("err = %v, want unknown role error for message 1", err)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_MissingModel(t *testing.T) {
	t.Parallel()
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o-mini",
		WithBaseURL("http://localhost:11434/v1/"),
		WithOrganization("org-1"),
		WithTimeout(5*time.Second),
		WithMaxRetries(0),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.String(); got != "openai/gpt-4o-mini" {
		t.Errorf("String() = %q, want %q", got, "openai/gpt-4o-mini")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}

	params, err := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   4096,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1", len(params.Messages))
	}
	if params.Temperature.Value != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Value != 4096 {
		t.Errorf("MaxCompletionTokens = %v, want 4096", params.MaxCompletionTokens.Value)
	}

}

// fakeServer serves the chat completions endpoint and records the last
// request body.
type fakeServer struct {
	t        *testing.T
	status   int
	body     string
	stream   []string
	lastBody map[string]any
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	f.lastBody = map[string]any{}
	_ = json.Unmarshal(raw, &f.lastBody)

	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"message":"backend down","type":"server_error"}}`)
		return
	}
	if f.stream != nil {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range f.stream {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, f.body)
}

func newTestProvider(t *testing.T, f *fakeServer) *Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	p, err := New("sk-test", "test-model", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func chunkJSON(content, finish string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"role":"assistant","content":%q},"finish_reason":%q}]}`, content, finish)
}

func TestComplete(t *testing.T) {
	t.Parallel()
	f := &fakeServer{t: t, body: `{
		"id":"c1","object":"chat.completion","created":1,"model":"test-model",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Hello!"}}],
		"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}
	}`}
	p := newTestProvider(t, f)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens: 16,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello!")
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("TotalTokens = %d, want 5", resp.Usage.TotalTokens)
	}
	if f.lastBody["model"] != "test-model" {
		t.Errorf("request model = %v", f.lastBody["model"])
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{t: t, status: http.StatusInternalServerError})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error from failing backend")
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{t: t, body: `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`})

	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestStreamCompletion(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{t: t, stream: []string{
		chunkJSON("Hel", ""),
		chunkJSON("lo", ""),
		chunkJSON("", "stop"),
		"[DONE]",
	}})

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var text strings.Builder
	var finish string
	for c := range ch {
		if c.FinishReason == llm.FinishReasonError {
			t.Fatalf("unexpected error chunk: %s", c.Text)
		}
		text.WriteString(c.Text)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if text.String() != "Hello" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hello")
	}
	if finish != "stop" {
		t.Errorf("finish reason = %q, want %q", finish, "stop")
	}
}

func TestStreamCompletion_MidStreamError(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{t: t, stream: []string{
		chunkJSON("partial", ""),
		`{"error":{"message":"overloaded"}}`,
	}})

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var last llm.Chunk
	for c := range ch {
		last = c
	}
	if last.FinishReason != llm.FinishReasonError {
		t.Fatalf("last chunk finish reason = %q, want %q", last.FinishReason, llm.FinishReasonError)
	}
	if !strings.Contains(last.Text, "overloaded") {
		t.Errorf("error chunk text = %q, want it to mention the stream error", last.Text)
	}
}

func TestComplete_Refusal(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{t: t, body: `{
		"id":"c1","object":"chat.completion","created":1,"model":"test-model",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"","refusal":"I can't help with that."}}]
	}`})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "I can't help with that." {
		t.Errorf("Content = %q, want the refusal text", resp.Content)
	}
}

// scriptedStream replays chunks for pump.
type scriptedStream struct {
	chunks []oai.ChatCompletionChunk
	err    error
	pos    int
	closed bool
}

func (s *scriptedStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedStream) Current() oai.ChatCompletionChunk { return s.chunks[s.pos-1] }
func (s *scriptedStream) Err() error                       { return s.err }
func (s *scriptedStream) Close() error                     { s.closed = true; return nil }

func delta(content, finish string) oai.ChatCompletionChunk {
	return oai.ChatCompletionChunk{Choices: []oai.ChatCompletionChunkChoice{{
		Delta:        oai.ChatCompletionChunkChoiceDelta{Content: content},
		FinishReason: finish,
	}}}
}

func TestPump_DropsKeepAlives(t *testing.T) {
	t.Parallel()
	s := &scriptedStream{chunks: []oai.ChatCompletionChunk{
		{},
		delta("", ""),
		delta("ok", ""),
		delta("", "length"),
	}}
	ch := make(chan llm.Chunk, 8)
	pump(context.Background(), s, ch)

	var got []llm.Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 2 || got[0].Text != "ok" || got[1].FinishReason != "length" {
		t.Fatalf("chunks = %+v, want text then finish reason", got)
	}
	if !s.closed {
		t.Error("stream not closed")
	}
}

func TestPump_StopsOnCancel(t *testing.T) {
	t.Parallel()
	s := &scriptedStream{chunks: []oai.ChatCompletionChunk{delta("a", ""), delta("b", "")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan llm.Chunk)
	done := make(chan struct{})
	go func() {
		pump(ctx, s, ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump blocked on a cancelled context")
	}
	if !s.closed {
		t.Error("stream not closed")
	}
}
