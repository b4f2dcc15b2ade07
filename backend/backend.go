// Package backend implements the uniform adapter interface over model
// backend families (local HTTP, OpenAI-compatible, Anthropic, Google
// GenAI), per spec component C7. Adapters never retry internally — that
// is the reliability layer's job — they only translate requests/responses
// and classify failures for it.
package backend

import (
	"context"
	"time"
)

// ErrorKind is the failure classification an adapter reports, used by the
// reliability layer to decide whether a failure is retryable.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindTransient      ErrorKind = "transient_network"
	KindHTTPStatus     ErrorKind = "http_status"
	KindAuthDenied     ErrorKind = "auth_denied"
	KindQuotaExceeded  ErrorKind = "quota_exceeded"
	KindModelMissing   ErrorKind = "model_missing"
	KindMalformed      ErrorKind = "malformed_response"
)

// Error is the uniform failure type every adapter returns on a failed call.
type Error struct {
	Kind       ErrorKind
	StatusCode int // HTTP status code, when Kind == KindHTTPStatus
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// EnrichmentRequest is the uniform request carried to every adapter.
type EnrichmentRequest struct {
	SpanText    string
	Path        string
	SliceType   string
	SubLanguage string
	TaskKind    string
	Timeout     time.Duration
}

// EnrichmentResponse is the uniform, provider-independent response shape.
type EnrichmentResponse struct {
	Summary      string
	Inputs       []string
	Outputs      []string
	Pitfalls     []string
	Tags         []string
	InputTokens  int
	OutputTokens int
}

// Adapter is the uniform interface every backend family implements.
type Adapter interface {
	// Call performs one enrichment request. It never retries: a failure
	// is returned immediately as *Error for the reliability layer to
	// classify and, if appropriate, retry or cascade.
	Call(ctx context.Context, req EnrichmentRequest) (EnrichmentResponse, error)
}
