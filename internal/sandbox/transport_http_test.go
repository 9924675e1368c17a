package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPTransportSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"sandboxId":"sbx-1"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "secret")
	raw, err := tr.Do(context.Background(), ActionCreate, map[string]string{"runtime": "node22"})
	require.NoError(t, err)

	require.Equal(t, "/v1/rpc/create", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "node22", gotBody["runtime"])

	var res CreateResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.Equal(t, "sbx-1", res.SandboxID)
}

func TestHTTPTransportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limited","code":"RATE_LIMIT"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "secret")
	_, err := tr.Do(context.Background(), ActionGetHost, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	require.Equal(t, "rate limited", apiErr.Message)
	require.Equal(t, "RATE_LIMIT", apiErr.Code)
	require.Equal(t, 3*time.Second, apiErr.RetryAfter)
}

func TestHTTPTransportNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "secret")
	_, err := tr.Do(context.Background(), ActionRunCommand, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "upstream unavailable", apiErr.Message)
	require.Zero(t, apiErr.RetryAfter)
}

func TestHTTPTransportNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	tr := NewHTTPTransport(srv.URL, "secret")
	_, err := tr.Do(context.Background(), ActionKill, nil)

	var trErr *TransportError
	require.ErrorAs(t, err, &trErr)
	require.Equal(t, ActionKill, trErr.Action)
}

func TestHTTPTransportParseRetryAfter(t *testing.T) {
	require.Equal(t, time.Duration(0), parseRetryAfter(""))
	require.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
	require.Equal(t, time.Duration(0), parseRetryAfter("-5"))
	require.Equal(t, 10*time.Second, parseRetryAfter("10"))
}
