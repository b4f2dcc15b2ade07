package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatAdapterParsesValidEnrichment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = `{"summary":"does x","inputs":["a"],"outputs":["b"],"pitfalls":[],"tags":["go"]}`
		resp.Usage.PromptTokens = 10
		resp.Usage.CompletionTokens = 5
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := NewOpenAICompatAdapter(OpenAICompatConfig{BaseURL: srv.URL, Model: "test-model"})
	out, err := a.Call(context.Background(), EnrichmentRequest{SpanText: "func foo() {}", TaskKind: "summarize"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Summary != "does x" || out.InputTokens != 10 || out.OutputTokens != 5 {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestOpenAICompatAdapterMalformedContentIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = "not json at all"
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := NewOpenAICompatAdapter(OpenAICompatConfig{BaseURL: srv.URL, Model: "test-model"})
	_, err := a.Call(context.Background(), EnrichmentRequest{SpanText: "x", TaskKind: "summarize"})
	if err == nil {
		t.Fatal("expected an error for malformed content")
	}
	var be *Error
	if !asError(err, &be) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if be.Kind != KindMalformed {
		t.Fatalf("expected KindMalformed, got %s", be.Kind)
	}
}

func TestOpenAICompatAdapterClassifiesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	a := NewOpenAICompatAdapter(OpenAICompatConfig{BaseURL: srv.URL, Model: "test-model"})
	_, err := a.Call(context.Background(), EnrichmentRequest{SpanText: "x", TaskKind: "summarize"})
	var be *Error
	if !asError(err, &be) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if be.Kind != KindAuthDenied {
		t.Fatalf("expected KindAuthDenied, got %s", be.Kind)
	}
}

func TestOpenAICompatAdapterClassifiesRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewOpenAICompatAdapter(OpenAICompatConfig{BaseURL: srv.URL, Model: "test-model"})
	_, err := a.Call(context.Background(), EnrichmentRequest{SpanText: "x", TaskKind: "summarize"})
	var be *Error
	if !asError(err, &be) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if be.Kind != KindHTTPStatus || be.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected KindHTTPStatus/503, got %s/%d", be.Kind, be.StatusCode)
	}
}

func TestExtractJSONObjectStripsSurroundingProse(t *testing.T) {
	raw := "Sure, here is the result:\n```json\n{\"summary\":\"x\"}\n```\nLet me know if that helps."
	got := extractJSONObject(raw)
	if got != `{"summary":"x"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func asError(err error, target **Error) bool {
	be, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = be
	return true
}
