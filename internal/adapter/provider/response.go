package provider

import (
	"strings"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// ResponseFamily tags the shape of a raw provider payload. Parsing is by
// tagged variant rather than ad-hoc shape inspection; unknown payloads fall
// back to a conservative variant that extracts nothing.
type ResponseFamily string

const (
	FamilyClaude  ResponseFamily = "claude"
	FamilyOpenAI  ResponseFamily = "openai"
	FamilyUnknown ResponseFamily = "unknown"
)

// ParsedResponse pairs a raw provider payload with its detected family
type ParsedResponse struct {
	Family  ResponseFamily
	Payload map[string]any
}

// DetectFamily classifies a provider payload. Claude-family payloads carry a
// top-level usage block with input/output token counts; OpenAI-family ones
// nest usage under prompt/completion naming.
func DetectFamily(providerName string, payload map[string]any) ResponseFamily {
	if strings.HasPrefix(providerName, "claude") || strings.Contains(providerName, "anthropic") {
		return FamilyClaude
	}
	if usage, ok := payload["usage"].(map[string]any); ok {
		if _, hasInput := usage["input_tokens"]; hasInput {
			return FamilyClaude
		}
		if _, hasPrompt := usage["prompt_tokens"]; hasPrompt {
			return FamilyOpenAI
		}
	}
	return FamilyUnknown
}

// Parse wraps a raw payload in its tagged variant
func Parse(providerName string, payload map[string]any) *ParsedResponse {
	return &ParsedResponse{
		Family:  DetectFamily(providerName, payload),
		Payload: payload,
	}
}

// ToStandardized builds the persisted envelope around the raw payload
func (p *ParsedResponse) ToStandardized(providerName, requestID, clientID string, duration time.Duration) *domain.StandardizedResponse {
	return &domain.StandardizedResponse{
		Provider:   providerName,
		RequestID:  requestID,
		ClientID:   clientID,
		DurationMs: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
		Response:   p.Payload,
	}
}

// TokenUsage extracts provider-reported token counts. Only the Claude and
// OpenAI variants carry them; the unknown variant reports nothing.
func (p *ParsedResponse) TokenUsage(model, originatorID string) (*domain.TokenUsage, bool) {
	usage, ok := p.Payload["usage"].(map[string]any)
	if !ok {
		return nil, false
	}

	switch p.Family {
	case FamilyClaude:
		in, inOK := numberField(usage, "input_tokens")
		out, outOK := numberField(usage, "output_tokens")
		if !inOK && !outOK {
			return nil, false
		}
		return &domain.TokenUsage{
			Model:        model,
			OriginatorID: originatorID,
			InputTokens:  in,
			OutputTokens: out,
		}, true
	case FamilyOpenAI:
		in, inOK := numberField(usage, "prompt_tokens")
		out, outOK := numberField(usage, "completion_tokens")
		if !inOK && !outOK {
			return nil, false
		}
		return &domain.TokenUsage{
			Model:        model,
			OriginatorID: originatorID,
			InputTokens:  in,
			OutputTokens: out,
		}, true
	}
	return nil, false
}

func numberField(data map[string]any, key string) (int64, bool) {
	switch v := data[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}
