package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AnthropicConfig configures the native Anthropic Messages API adapter,
// which uses a distinct wire format (x-api-key header, content-block
// response) from the OpenAI-compatible family.
type AnthropicConfig struct {
	BaseURL string // defaults to https://api.anthropic.com
	APIKey  string
	Model   string
	Client  *http.Client
}

// AnthropicAdapter implements Adapter for Anthropic's native REST API.
type AnthropicAdapter struct {
	http  httpClient
	model string
}

// NewAnthropicAdapter creates an adapter for Anthropic's Messages API.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	headers := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}
	return &AnthropicAdapter{
		http:  newHTTPClient(cfg.BaseURL, cfg.Client, headers),
		model: cfg.Model,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system"`
	Messages  []anthropicMessage  `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Call implements Adapter.
func (a *AnthropicAdapter) Call(ctx context.Context, req EnrichmentRequest) (EnrichmentResponse, error) {
	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: 2048,
		System:    enrichmentSystemPrompt(req.TaskKind),
		Messages: []anthropicMessage{
			{Role: "user", Content: enrichmentUserPrompt(req)},
		},
	}

	respBody, err := a.http.post(ctx, "/v1/messages", body)
	if err != nil {
		return EnrichmentResponse{}, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("decoding messages response: %w", err)}
	}
	if len(resp.Content) == 0 {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("no content blocks in response")}
	}

	payload, err := parseEnrichmentJSON(resp.Content[0].Text)
	if err != nil {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: err}
	}
	payload.InputTokens = resp.Usage.InputTokens
	payload.OutputTokens = resp.Usage.OutputTokens
	return payload, nil
}
