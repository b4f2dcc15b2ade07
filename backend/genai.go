package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GenAIConfig configures the native Google GenAI (generateContent) REST
// adapter, which carries the API key in the x-goog-api-key header and nests
// message text under content.parts rather than a flat "content" string.
type GenAIConfig struct {
	BaseURL string // defaults to https://generativelanguage.googleapis.com
	APIKey  string
	Model   string
	Client  *http.Client
}

// GenAIAdapter implements Adapter for Google's native GenAI REST API.
type GenAIAdapter struct {
	http  httpClient
	model string
}

// NewGenAIAdapter creates an adapter for Google GenAI's generateContent
// endpoint.
func NewGenAIAdapter(cfg GenAIConfig) *GenAIAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	headers := map[string]string{"x-goog-api-key": cfg.APIKey}
	return &GenAIAdapter{
		http:  newHTTPClient(cfg.BaseURL, cfg.Client, headers),
		model: cfg.Model,
	}
}

type genAIPart struct {
	Text string `json:"text"`
}

type genAIContent struct {
	Role  string      `json:"role,omitempty"`
	Parts []genAIPart `json:"parts"`
}

type genAIRequest struct {
	SystemInstruction *genAIContent  `json:"systemInstruction,omitempty"`
	Contents          []genAIContent `json:"contents"`
}

type genAIResponse struct {
	Candidates []struct {
		Content genAIContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Call implements Adapter.
func (a *GenAIAdapter) Call(ctx context.Context, req EnrichmentRequest) (EnrichmentResponse, error) {
	body := genAIRequest{
		SystemInstruction: &genAIContent{Parts: []genAIPart{{Text: enrichmentSystemPrompt(req.TaskKind)}}},
		Contents: []genAIContent{
			{Role: "user", Parts: []genAIPart{{Text: enrichmentUserPrompt(req)}}},
		},
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", a.model)
	respBody, err := a.http.post(ctx, path, body)
	if err != nil {
		return EnrichmentResponse{}, err
	}

	var resp genAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("decoding generateContent response: %w", err)}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("no candidates in response")}
	}

	payload, err := parseEnrichmentJSON(resp.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return EnrichmentResponse{}, &Error{Kind: KindMalformed, Err: err}
	}
	payload.InputTokens = resp.UsageMetadata.PromptTokenCount
	payload.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	return payload, nil
}
