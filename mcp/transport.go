package mcp

import (
	"context"
	"encoding/json"
)

// Transport is the wire-level capability set shared by all MCP transports.
// Implementations must be safe for concurrent Call use after Connect.
type Transport interface {
	// Connect establishes the connection (spawns the subprocess or probes
	// the endpoint). It must be called before Call.
	Connect(ctx context.Context) error

	// Close tears the connection down. It must be safe to call on a
	// transport that never connected and to call more than once.
	Close() error

	// Call sends a request and waits for the matching response, bounded by
	// ctx and the configured per-call timeout.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a one-way notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport is usable.
	Connected() bool
}

// newTransport selects the transport implementation for a server config.
func newTransport(cfg *ServerConfig) Transport {
	if cfg.Transport == TransportHTTP {
		return NewHTTPTransport(cfg)
	}
	return NewStdioTransport(cfg)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
