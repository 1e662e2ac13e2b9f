package replication

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *HTTPTransport {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL, Token: " session-token "})
	require.NoError(t, err)
	return transport
}

func TestHTTPTransportExchange(t *testing.T) {
	var received SyncRequest
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SyncPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SyncResponse{SyncedAtMicros: 77, ConflictsResolved: 2})
	})

	response, err := transport.Exchange(context.Background(), SyncRequest{SinceMicros: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), received.SinceMicros)
	assert.Equal(t, int64(77), response.SyncedAtMicros)
	assert.Equal(t, 2, response.ConflictsResolved)
}

func TestHTTPTransportRejectsOversizedAnswer(t *testing.T) {
	products := make([]ProductPayload, 0, 20)
	for id := int64(1); id <= 20; id++ {
		products = append(products, ProductPayload{ID: id, Name: "Galvanized wood screw", CreatedAtMicros: 5, UpdatedAtMicros: 5})
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SyncResponse{SyncedAtMicros: 9, UpdatedEntities: EntityPayloads{Products: products}})
	}))
	t.Cleanup(server.Close)

	limited, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL, MaxResponseBytes: 256})
	require.NoError(t, err)
	_, err = limited.Exchange(context.Background(), SyncRequest{})
	require.ErrorIs(t, err, ErrResponseTooLarge)
	assert.ErrorIs(t, err, ErrMalformedExchange)
	assert.Contains(t, err.Error(), "limit is 256 bytes")

	roomy, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL, MaxResponseBytes: 1 << 20})
	require.NoError(t, err)
	response, err := roomy.Exchange(context.Background(), SyncRequest{})
	require.NoError(t, err)
	assert.Len(t, response.UpdatedEntities.Products, 20)
}

func TestHTTPTransportMapsFailures(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{name: "rejected request", status: http.StatusBadRequest, body: `{"error":"malformed"}`, expected: ErrMalformedExchange},
		{name: "refused credentials", status: http.StatusUnauthorized, body: `{"error":"unauthorized"}`, expected: ErrUnreachable},
		{name: "hub failure", status: http.StatusInternalServerError, body: `{}`, expected: ErrUnreachable},
		{name: "undecodable body", status: http.StatusOK, body: `<html>proxy</html>`, expected: ErrMalformedExchange},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			})
			_, err := transport.Exchange(context.Background(), SyncRequest{})
			assert.ErrorIs(t, err, testCase.expected)
		})
	}
}

func TestHTTPTransportPing(t *testing.T) {
	healthy := true
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthPath, r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	assert.NoError(t, transport.Ping(context.Background()))
	healthy = false
	assert.ErrorIs(t, transport.Ping(context.Background()), ErrUnreachable)
}

func TestHTTPTransportUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: url})
	require.NoError(t, err)
	assert.ErrorIs(t, transport.Ping(context.Background()), ErrUnreachable)
	_, err = transport.Exchange(context.Background(), SyncRequest{})
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestNewHTTPTransportValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://hub.example.com", "://broken"} {
		_, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: raw})
		assert.Error(t, err, "url %q", raw)
	}
}
