package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/suykerbuyk/flowsmith/internal/config"
	"github.com/suykerbuyk/flowsmith/internal/failure"
)

const anthropicVersion = "2023-06-01"

// Client talks to the Anthropic Messages API. Build one per request; it holds
// no state between calls and never retries.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// New creates a client from provider config. The caller imposes any deadline
// through ctx; the HTTP client itself has no timeout.
func New(cfg config.ProviderConfig, apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{},
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Model returns the model identifier requests are sent with.
func (c *Client) Model() string { return c.model }

// Complete sends req. In Buffered mode it blocks until the provider finishes.
// In Stream mode it returns once the response status is known and the body is
// read lazily through Completion.Chunks.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if c.apiKey == "" {
		return nil, failure.Providerf(http.StatusUnauthorized, nil, "API key not configured")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.Prompt.System(),
		Messages:  []message{{Role: "user", Content: req.Prompt.User()}},
		Stream:    req.Mode == Stream,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if req.Mode == Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, failure.Providerf(0, err, "http request")
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, respBody)
	}

	if req.Mode == Stream {
		return StreamCompletion(readEvents(ctx, resp.Body), resp.Body), nil
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Providerf(0, err, "read response")
	}
	text, err := parseResponse(respBody)
	if err != nil {
		return nil, err
	}
	return TextCompletion(text), nil
}

func parseResponse(body []byte) (string, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", failure.Providerf(http.StatusOK, err, "unmarshal response")
	}
	if resp.Error != nil {
		return "", failure.Providerf(http.StatusOK, nil, "API error: %s", resp.Error.Message)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// statusError classifies a non-200 provider response.
func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		msg = env.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failure.Providerf(status, nil, "authentication failed (status %d): %s", status, msg)
	case status == http.StatusTooManyRequests:
		return failure.Providerf(status, nil, "rate limited (status %d): %s", status, msg)
	default:
		return failure.Providerf(status, nil, "API error (status %d): %s", status, msg)
	}
}
