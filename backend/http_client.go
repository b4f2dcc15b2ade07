package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// httpClient is the shared HTTP plumbing for REST-based adapters. Unlike
// the teacher's client, it performs exactly one attempt per call and
// classifies the outcome into an *Error instead of retrying — retries are
// the reliability layer's job.
type httpClient struct {
	client  *http.Client
	baseURL string
	headers map[string]string
}

func newHTTPClient(baseURL string, client *http.Client, headers map[string]string) httpClient {
	if client == nil {
		client = http.DefaultClient
	}
	return httpClient{client: client, baseURL: baseURL, headers: headers}
}

func (c httpClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: err}
	}

	if resp.StatusCode >= 400 {
		return respBody, classifyStatus(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		// Authentication/authorization failures are non-retryable; 429
		// (rate limiting, not quota exhaustion) is left as KindHTTPStatus
		// below so the reliability layer retries it per spec.
		return &Error{Kind: KindAuthDenied, StatusCode: status, Err: fmt.Errorf("%s", truncate(body))}
	case http.StatusNotFound:
		return &Error{Kind: KindModelMissing, StatusCode: status, Err: fmt.Errorf("%s", truncate(body))}
	default:
		return &Error{Kind: KindHTTPStatus, StatusCode: status, Err: fmt.Errorf("%s", truncate(body))}
	}
}

func truncate(b []byte) string {
	const max = 500
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
