package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/maplemetrics/finagent/logging"
)

// HTTPTransport reaches an MCP server over a streamable HTTP endpoint.
// Every Call is a POST of a single JSON-RPC request; configured headers are
// attached to each request, which is how hosted servers receive API keys.
type HTTPTransport struct {
	cfg    *ServerConfig
	logger logging.Logger
	client *http.Client

	connected atomic.Bool
}

// NewHTTPTransport creates an HTTP transport for the given server config.
func NewHTTPTransport(cfg *ServerConfig, optFns ...func(t *HTTPTransport)) *HTTPTransport {
	t := &HTTPTransport{
		cfg:    cfg,
		logger: logging.NoOpLogger{},
		client: &http.Client{Timeout: cfg.CallTimeout()},
	}
	for _, fn := range optFns {
		fn(t)
	}
	return t
}

// WithHTTPLogger overrides the transport logger.
func WithHTTPLogger(logger logging.Logger) func(t *HTTPTransport) {
	return func(t *HTTPTransport) { t.logger = logger }
}

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(client *http.Client) func(t *HTTPTransport) {
	return func(t *HTTPTransport) { t.client = client }
}

// Connect marks the transport ready. The endpoint is not probed here; the
// client's initialize handshake is the first real round trip.
func (t *HTTPTransport) Connect(_ context.Context) error {
	if t.cfg.URL == "" {
		return fmt.Errorf("url is required for http transport")
	}
	t.connected.Store(true)
	t.logger.Debug("http transport ready", "server", t.cfg.ID, "url", t.cfg.URL)
	return nil
}

// Close marks the transport unusable. Idempotent.
func (t *HTTPTransport) Close() error {
	t.connected.Store(false)
	return nil
}

// Call POSTs a JSON-RPC request and decodes the response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := jsonrpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: raw}

	var rpcResp jsonrpcResponse
	if err := t.post(ctx, req, &rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Notify POSTs a JSON-RPC notification, discarding any response body.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return t.post(ctx, jsonrpcRequest{JSONRPC: "2.0", Method: method, Params: raw}, nil)
}

// Connected reports whether the transport is usable.
func (t *HTTPTransport) Connected() bool { return t.connected.Load() }

func (t *HTTPTransport) post(ctx context.Context, req jsonrpcRequest, out *jsonrpcResponse) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
