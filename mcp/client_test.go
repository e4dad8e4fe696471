package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records calls and replays canned responses per method.
type fakeTransport struct {
	connected  bool
	connectErr error
	closed     int
	calls      []string
	notifies   []string
	responses  map[string]json.RawMessage
	errs       map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: map[string]json.RawMessage{
			"initialize": json.RawMessage(`{
				"protocolVersion": "2025-03-26",
				"serverInfo": {"name": "fake-server", "version": "0.1.0"}
			}`),
		},
		errs: map[string]error{},
	}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.connected = false
	t.closed++
	return nil
}

func (t *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.calls = append(t.calls, method)
	if err := t.errs[method]; err != nil {
		return nil, err
	}
	resp, ok := t.responses[method]
	if !ok {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	return resp, nil
}

func (t *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	t.notifies = append(t.notifies, method)
	return nil
}

func (t *fakeTransport) Connected() bool { return t.connected }

func testConfig() *ServerConfig {
	return &ServerConfig{ID: "fake", Transport: TransportHTTP, URL: "http://localhost/mcp"}
}

func TestClientConnectHandshake(t *testing.T) {
	transport := newFakeTransport()
	client := NewClientWithTransport(testConfig(), transport, nil)

	require.NoError(t, client.Connect(context.Background()))

	assert.Equal(t, []string{"initialize"}, transport.calls)
	assert.Equal(t, []string{"notifications/initialized"}, transport.notifies)
	assert.Equal(t, "fake-server", client.ServerInfo().Name)
	assert.True(t, client.Connected())
}

func TestClientConnectInitializeFailureClosesTransport(t *testing.T) {
	transport := newFakeTransport()
	transport.errs["initialize"] = fmt.Errorf("server rejected handshake")
	client := NewClientWithTransport(testConfig(), transport, nil)

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, transport.closed)
}

func TestClientListTools(t *testing.T) {
	transport := newFakeTransport()
	transport.responses["tools/list"] = json.RawMessage(`{
		"tools": [
			{"name": "get_stock_price", "description": "Current price for a ticker",
			 "inputSchema": {"type": "object", "properties": {"ticker": {"type": "string"}}, "required": ["ticker"]}},
			{"name": "get_company_info", "description": "Company profile"}
		]
	}`)
	client := NewClientWithTransport(testConfig(), transport, nil)
	require.NoError(t, client.Connect(context.Background()))

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "get_stock_price", tools[0].Name)
	assert.NotEmpty(t, tools[0].InputSchema)
	assert.Empty(t, tools[1].InputSchema)
}

func TestClientCallTool(t *testing.T) {
	transport := newFakeTransport()
	transport.responses["tools/call"] = json.RawMessage(`{
		"content": [{"type": "text", "text": "AAPL: 230.12"}]
	}`)
	client := NewClientWithTransport(testConfig(), transport, nil)
	require.NoError(t, client.Connect(context.Background()))

	result, err := client.CallTool(context.Background(), "get_stock_price", map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "AAPL: 230.12", result.Text())
}

func TestClientCallToolServerError(t *testing.T) {
	transport := newFakeTransport()
	transport.responses["tools/call"] = json.RawMessage(`{
		"content": [{"type": "text", "text": "unknown ticker"}],
		"isError": true
	}`)
	client := NewClientWithTransport(testConfig(), transport, nil)
	require.NoError(t, client.Connect(context.Background()))

	result, err := client.CallTool(context.Background(), "get_stock_price", map[string]any{"ticker": "???"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "unknown ticker", result.Text())
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{ID: "yf", Transport: TransportStdio, Command: "mcp-yahoo-finance"}, false},
		{"valid http", ServerConfig{ID: "chart", Transport: TransportHTTP, URL: "http://localhost:1122/mcp"}, false},
		{"missing id", ServerConfig{Transport: TransportHTTP, URL: "http://localhost/mcp"}, true},
		{"stdio without command", ServerConfig{ID: "yf", Transport: TransportStdio}, true},
		{"http without url", ServerConfig{ID: "chart", Transport: TransportHTTP}, true},
		{"unknown transport", ServerConfig{ID: "x", Transport: TransportKind("grpc")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfigCallTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, (&ServerConfig{}).CallTimeout())
	assert.Equal(t, 5*time.Second, (&ServerConfig{Timeout: 5 * time.Second}).CallTimeout())
}
