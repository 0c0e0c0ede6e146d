package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/core/ports"
)

// ClientRegistry maps provider names to their callables. The executor treats
// clients as opaque; swapping in mocks is how tests drive the pipeline.
type ClientRegistry struct {
	clients map[string]ports.ProviderClient
	mu      sync.RWMutex
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]ports.ProviderClient),
	}
}

func (c *ClientRegistry) Register(client ports.ProviderClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[client.Name()] = client
}

// Reload swaps the full client set in one step so lookups never observe a
// half-applied catalog
func (c *ClientRegistry) Reload(clients []ports.ProviderClient) {
	next := make(map[string]ports.ProviderClient, len(clients))
	for _, client := range clients {
		next[client.Name()] = client
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = next
}

func (c *ClientRegistry) Get(name string) (ports.ProviderClient, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, ok := c.clients[name]
	return client, ok
}

// HTTPClient calls an OpenAI-compatible chat completions endpoint. Transport
// failures map to network_error, 429 to api_rate_limit, 5xx to provider_error.
type HTTPClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(name, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) Name() string {
	return c.name
}

func (c *HTTPClient) Complete(ctx context.Context, request *domain.CompletionRequest) (map[string]any, error) {
	body, err := json.Marshal(buildChatBody(request))
	if err != nil {
		return nil, domain.NewCompletionError(domain.ErrKindInvalidRequest, request.RequestID, request.SessionID, c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewCompletionError(domain.ErrKindInvalidRequest, request.RequestID, request.SessionID, c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		kind := domain.ErrKindNetworkError
		if ctx.Err() == context.DeadlineExceeded {
			kind = domain.ErrKindTimeout
		}
		return nil, domain.NewCompletionError(kind, request.RequestID, request.SessionID, c.name, err)
	}
	defer resp.Body.Close()

	payload, err := decodeBody(resp.Body)
	if err != nil {
		return nil, domain.NewCompletionError(domain.ErrKindProviderError, request.RequestID, request.SessionID, c.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewCompletionError(domain.ErrKindAPIRateLimit, request.RequestID, request.SessionID, c.name,
			fmt.Errorf("provider returned HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, domain.NewCompletionError(domain.ErrKindProviderError, request.RequestID, request.SessionID, c.name,
			fmt.Errorf("provider returned HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, domain.NewCompletionError(domain.ErrKindInvalidRequest, request.RequestID, request.SessionID, c.name,
			fmt.Errorf("provider returned HTTP %d", resp.StatusCode))
	}

	return payload, nil
}

func buildChatBody(request *domain.CompletionRequest) map[string]any {
	body := map[string]any{
		"model": request.Model,
	}

	if len(request.Messages) > 0 {
		msgs := make([]map[string]any, 0, len(request.Messages))
		for _, m := range request.Messages {
			msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
		}
		body["messages"] = msgs
	} else if request.Prompt != "" {
		body["messages"] = []map[string]any{
			{"role": "user", "content": request.Prompt},
		}
	}

	if extraBody, ok := request.Extra["extra_body"].(map[string]any); ok {
		for k, v := range extraBody {
			if k == "ksi" {
				continue
			}
			body[k] = v
		}
	}

	return body
}

func decodeBody(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r, 64*1024*1024))
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("undecodable provider payload: %w", err)
	}
	return payload, nil
}
