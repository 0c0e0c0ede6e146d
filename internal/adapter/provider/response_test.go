package provider

import (
	"testing"
	"time"
)

func TestDetectFamilyByProviderName(t *testing.T) {
	if family := DetectFamily("claude-cli", map[string]any{}); family != FamilyClaude {
		t.Errorf("expected claude family for claude-cli, got %s", family)
	}
	if family := DetectFamily("anthropic-api", map[string]any{}); family != FamilyClaude {
		t.Errorf("expected claude family for anthropic-api, got %s", family)
	}
}

func TestDetectFamilyByUsageShape(t *testing.T) {
	claude := map[string]any{
		"usage": map[string]any{"input_tokens": float64(10), "output_tokens": float64(20)},
	}
	if family := DetectFamily("litellm", claude); family != FamilyClaude {
		t.Errorf("expected claude family from input_tokens usage, got %s", family)
	}

	openai := map[string]any{
		"usage": map[string]any{"prompt_tokens": float64(10), "completion_tokens": float64(20)},
	}
	if family := DetectFamily("litellm", openai); family != FamilyOpenAI {
		t.Errorf("expected openai family from prompt_tokens usage, got %s", family)
	}

	if family := DetectFamily("litellm", map[string]any{"result": "ok"}); family != FamilyUnknown {
		t.Errorf("expected unknown family without a usage block, got %s", family)
	}
}

func TestTokenUsageExtraction(t *testing.T) {
	parsed := Parse("litellm", map[string]any{
		"usage": map[string]any{"prompt_tokens": float64(42), "completion_tokens": float64(7)},
	})

	usage, ok := parsed.TokenUsage("gpt-4o", "agent-1")
	if !ok {
		t.Fatal("expected token usage to be extracted")
	}
	if usage.InputTokens != 42 || usage.OutputTokens != 7 {
		t.Errorf("expected 42/7 tokens, got %d/%d", usage.InputTokens, usage.OutputTokens)
	}
	if usage.Model != "gpt-4o" || usage.OriginatorID != "agent-1" {
		t.Errorf("expected attribution to carry through, got %s/%s", usage.Model, usage.OriginatorID)
	}
}

func TestTokenUsageAbsentForUnknownVariant(t *testing.T) {
	parsed := Parse("litellm", map[string]any{"result": "ok"})
	if _, ok := parsed.TokenUsage("gpt-4o", ""); ok {
		t.Error("expected no token usage from an unknown payload shape")
	}
}

func TestToStandardizedEnvelope(t *testing.T) {
	payload := map[string]any{"session_id": "sess-1", "result": "hello"}
	parsed := Parse("litellm", payload)

	resp := parsed.ToStandardized("litellm", "req-1", "agent-1", 250*time.Millisecond)
	if resp.Provider != "litellm" || resp.RequestID != "req-1" || resp.ClientID != "agent-1" {
		t.Errorf("unexpected envelope identity: %+v", resp)
	}
	if resp.DurationMs != 250 {
		t.Errorf("expected 250ms, got %d", resp.DurationMs)
	}
	if resp.SessionID() != "sess-1" {
		t.Errorf("expected session_id from payload, got %q", resp.SessionID())
	}
}
