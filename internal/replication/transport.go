package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
)

const (
	HealthPath = "/healthz"
	SyncPath   = "/api/sync"

	defaultTransportTimeout = 30 * time.Second
	defaultMaxResponseBytes = 64 << 20
)

// HTTPTransportConfig describes how to reach the hub.
type HTTPTransportConfig struct {
	BaseURL string
	// Token is a session token sent as a bearer credential.
	Token   string
	Client  *http.Client
	Timeout time.Duration
	// MaxResponseBytes bounds one sync answer. Larger answers fail the round
	// with ErrResponseTooLarge.
	MaxResponseBytes int64
}

// HTTPTransport exchanges rounds with a hub over HTTP.
type HTTPTransport struct {
	baseURL  *url.URL
	token    string
	client   *http.Client
	maxBytes int64
}

func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("hub url is required")
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid hub url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid hub url scheme %q", baseURL.Scheme)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTransportTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	return &HTTPTransport{baseURL: baseURL, token: strings.TrimSpace(cfg.Token), client: client, maxBytes: maxBytes}, nil
}

func (t *HTTPTransport) Ping(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint(HealthPath), http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	response, err := t.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4096))
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrUnreachable, response.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) Exchange(ctx context.Context, syncRequest SyncRequest) (SyncResponse, error) {
	body, err := json.Marshal(syncRequest)
	if err != nil {
		return SyncResponse{}, fmt.Errorf("%w: encode request: %v", ErrMalformedExchange, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(SyncPath), bytes.NewReader(body))
	if err != nil {
		return SyncResponse{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	request.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		request.Header.Set("Authorization", "Bearer "+t.token)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return SyncResponse{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, t.maxBytes+1))
	if err != nil {
		return SyncResponse{}, fmt.Errorf("%w: read response: %w", ErrUnreachable, err)
	}
	switch {
	case response.StatusCode == http.StatusBadRequest:
		return SyncResponse{}, fmt.Errorf("%w: hub rejected request: %s", ErrMalformedExchange, strings.TrimSpace(string(payload)))
	case response.StatusCode != http.StatusOK:
		return SyncResponse{}, fmt.Errorf("%w: hub returned %d", ErrUnreachable, response.StatusCode)
	}
	if int64(len(payload)) > t.maxBytes {
		return SyncResponse{}, fmt.Errorf("%w: %w: limit is %d bytes", ErrMalformedExchange, ErrResponseTooLarge, t.maxBytes)
	}

	var syncResponse SyncResponse
	if err := json.Unmarshal(payload, &syncResponse); err != nil {
		return SyncResponse{}, fmt.Errorf("%w: decode response: %v", ErrMalformedExchange, err)
	}
	return syncResponse, nil
}

func (t *HTTPTransport) endpoint(path string) string {
	return t.baseURL.JoinPath(path).String()
}

// DirectTransport hands rounds to an in-process hub Service. It is used when
// the hub and a replica share a process, and in tests.
type DirectTransport struct {
	Service   *Service
	Principal inventory.Actor
	// Offline simulates an unreachable hub when it returns true.
	Offline func() bool
}

func (t *DirectTransport) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if t.Offline != nil && t.Offline() {
		return fmt.Errorf("%w: hub offline", ErrUnreachable)
	}
	return nil
}

func (t *DirectTransport) Exchange(ctx context.Context, request SyncRequest) (SyncResponse, error) {
	if err := t.Ping(ctx); err != nil {
		return SyncResponse{}, err
	}
	return t.Service.Ingest(ctx, t.Principal, request)
}
