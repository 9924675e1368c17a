package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPTransport is the JSON-over-HTTP Transport implementation. Each action
// posts to an RPC-style endpoint under the provider base URL; per-call
// deadlines come from the request context, so the underlying http.Client
// carries no global timeout.
type HTTPTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the given provider endpoint.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
	}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, action Action, params any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/rpc/"+string(action), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(payload)}
		var decoded struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(payload, &decoded) == nil && decoded.Message != "" {
			apiErr.Message = decoded.Message
			apiErr.Code = decoded.Code
		}
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, apiErr
	}

	return payload, nil
}

// parseRetryAfter handles the delta-seconds form; HTTP-date hints are rare
// from the provider and are ignored.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
