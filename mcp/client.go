package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maplemetrics/finagent/logging"
)

const protocolVersion = "2025-03-26"

// Client talks to a single MCP server over its configured transport.
// Connect performs the initialize handshake; ListTools and CallTool are the
// only capabilities the registry needs.
type Client struct {
	cfg        *ServerConfig
	transport  Transport
	logger     logging.Logger
	serverInfo ServerInfo
}

// NewClient creates a client for the given server config.
func NewClient(cfg *ServerConfig, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Client{cfg: cfg, transport: newTransport(cfg), logger: logger}
}

// NewClientWithTransport creates a client over an explicit transport (tests).
func NewClientWithTransport(cfg *ServerConfig, transport Transport, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Client{cfg: cfg, transport: transport, logger: logger}
}

// Connect establishes the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "finagent",
			"version": "1.0.0",
		},
	})
	if err != nil {
		_ = c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		_ = c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.serverInfo = init.ServerInfo

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "server", c.cfg.ID, "error", err)
	}

	c.logger.Info("connected to mcp server",
		"server", c.cfg.ID,
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version)
	return nil
}

// Close tears down the transport. Idempotent.
func (c *Client) Close() error { return c.transport.Close() }

// Connected reports whether the underlying transport is usable.
func (c *Client) Connected() bool { return c.transport.Connected() }

// ServerInfo returns the identity reported during the handshake.
func (c *Client) ServerInfo() ServerInfo { return c.serverInfo }

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig { return c.cfg }

// ListTools queries the server for its tool inventory.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return resp.Tools, nil
}

// CallTool executes a named tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := callToolParams{Name: name}
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = raw
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
