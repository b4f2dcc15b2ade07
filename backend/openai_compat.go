package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// OpenAICompatConfig configures an adapter speaking the OpenAI chat
// completions wire format. It serves the local HTTP model server family
// and any OpenAI-compatible REST provider (OpenAI itself, Groq, OpenRouter,
// xAI, Gemini's OpenAI-compatible endpoint, Ollama, LM Studio) since they
// all share this request/response shape.
type OpenAICompatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// OpenAICompatAdapter implements Adapter for the OpenAI-compatible family.
type OpenAICompatAdapter struct {
	http  httpClient
	model string
}

// NewOpenAICompatAdapter creates an adapter for the given configuration.
func NewOpenAICompatAdapter(cfg OpenAICompatConfig) *OpenAICompatAdapter {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &OpenAICompatAdapter{
		http:  newHTTPClient(cfg.BaseURL, cfg.Client, headers),
		model: cfg.Model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call implements Adapter.
func (a *OpenAICompatAdapter) Call(ctx context.Context, req EnrichmentRequest) (EnrichmentResponse, error) {
	body := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: enrichmentSystemPrompt(req.TaskKind)},
			{Role: "user", Content: enrichmentUserPrompt(req)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	respBody, err := a.http.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return EnrichmentResponse{}, err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("decoding chat response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("no choices in response")}
	}

	payload, err := parseEnrichmentJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: err}
	}
	payload.InputTokens = resp.Usage.PromptTokens
	payload.OutputTokens = resp.Usage.CompletionTokens
	return payload, nil
}
