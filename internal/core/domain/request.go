package domain

import (
	"time"
)

// CompletionRequest is the immutable record of a single completion submission.
// Raw preserves the original event payload so retries resubmit byte-equivalent data.
type CompletionRequest struct {
	RequestID        string
	SessionID        string
	OriginatorID     string
	Model            string
	Prompt           string
	Messages         []Message
	Extra            map[string]any
	ConversationLock *ConversationLockConfig
	Injection        *InjectionConfig
	TimeoutSeconds   int
	CreatedAt        time.Time
	Raw              map[string]any
}

// Message is one turn of a conversation payload
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationLockConfig is the caller's optional request to hold the
// conversation for the duration of the completion
type ConversationLockConfig struct {
	Enabled        bool
	TimeoutSeconds int
}

// InjectionConfig marks a request whose result should pass through the
// injection pipeline before emission
type InjectionConfig struct {
	Enabled  bool
	Metadata map[string]any
}

// IsSessionless reports whether the request is bound to no conversation
func (r *CompletionRequest) IsSessionless() bool {
	return r.SessionID == ""
}

// RequiresMCP reports whether the request's extras demand an MCP-capable provider
func (r *CompletionRequest) RequiresMCP() bool {
	extraBody, ok := r.Extra["extra_body"].(map[string]any)
	if !ok {
		return false
	}
	ksi, ok := extraBody["ksi"].(map[string]any)
	if !ok {
		return false
	}
	path, ok := ksi["mcp_config_path"].(string)
	return ok && path != ""
}

// ParseCompletionRequest builds a CompletionRequest from an event payload.
// Unknown keys are preserved in Raw and Extra so providers see the full body.
func ParseCompletionRequest(data map[string]any) *CompletionRequest {
	req := &CompletionRequest{
		RequestID:    stringField(data, "request_id"),
		SessionID:    stringField(data, "session_id"),
		OriginatorID: stringField(data, "originator_id"),
		Model:        stringField(data, "model"),
		Prompt:       stringField(data, "prompt"),
		Extra:        data,
		CreatedAt:    time.Now(),
		Raw:          data,
	}

	if req.OriginatorID == "" {
		req.OriginatorID = stringField(data, "agent_id")
	}

	if msgs, ok := data["messages"].([]any); ok {
		for _, m := range msgs {
			if mm, ok := m.(map[string]any); ok {
				req.Messages = append(req.Messages, Message{
					Role:    stringField(mm, "role"),
					Content: stringField(mm, "content"),
				})
			}
		}
	}

	if lockData, ok := data["conversation_lock"].(map[string]any); ok {
		req.ConversationLock = &ConversationLockConfig{
			Enabled:        boolField(lockData, "enabled"),
			TimeoutSeconds: intField(lockData, "timeout"),
		}
	}

	if injData, ok := data["injection_config"].(map[string]any); ok {
		inj := &InjectionConfig{Enabled: boolField(injData, "enabled")}
		if meta, ok := injData["metadata"].(map[string]any); ok {
			inj.Metadata = meta
		}
		req.Injection = inj
	}

	req.TimeoutSeconds = intField(data, "timeout")

	return req
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func boolField(data map[string]any, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
