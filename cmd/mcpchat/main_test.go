package main

import (
	"slices"
	"testing"

	"github.com/MrWong99/mcpchat/internal/config"
)

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"organization": " org-1 ",
		"max_retries":  3,
		"json_retries": float64(4),
		"bad":          true,
	}

	if got := optString(opts, "organization"); got != "org-1" {
		t.Errorf("optString = %q, want org-1", got)
	}
	if got := optString(opts, "missing"); got != "" {
		t.Errorf("optString(missing) = %q", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if n, ok := optInt(opts, "max_retries"); !ok || n != 3 {
		t.Errorf("optInt(int) = %d, %v", n, ok)
	}
	if n, ok := optInt(opts, "json_retries"); !ok || n != 4 {
		t.Errorf("optInt(float64) = %d, %v", n, ok)
	}
	if _, ok := optInt(opts, "bad"); ok {
		t.Error("optInt(bool) should not be ok")
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.LLMNames()
	for _, want := range config.ValidProviderNames {
		if !slices.Contains(names, want) {
			t.Errorf("provider %q not registered", want)
		}
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "ollama", Model: "llama3.2"}); err != nil {
		t.Errorf("ollama: %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai: %v", err)
	}
}

func TestNewOpenAI_Options(t *testing.T) {
	t.Parallel()
	_, err := newOpenAI(config.ProviderEntry{
		Name: "openai", Model: "gpt-4o-mini", APIKey: "sk-test",
		Options: map[string]any{"timeout": "soon"},
	})
	if err == nil {
		t.Error("expected error for invalid timeout")
	}

	p, err := newOpenAI(config.ProviderEntry{
		Name: "openai", Model: "gpt-4o-mini", APIKey: "sk-test", BaseURL: "http://localhost:8080/v1",
		Options: map[string]any{"organization": "org-1", "timeout": "30s", "max_retries": 0},
	})
	if err != nil {
		t.Fatalf("newOpenAI: %v", err)
	}
	if s, ok := p.(interface{ String() string }); !ok || s.String() != "openai/gpt-4o-mini" {
		t.Errorf("provider = %v", p)
	}

	if _, err := newOpenAI(config.ProviderEntry{Name: "openai", APIKey: "sk-test"}); err == nil {
		t.Error("expected validation error for missing model")
	}
}
