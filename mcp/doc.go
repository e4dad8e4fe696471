// Package mcp implements a minimal Model Context Protocol client used to
// reach external tool providers. Two transports are supported: a local
// subprocess speaking line-delimited JSON-RPC over stdio, and a streamable
// HTTP endpoint (optionally authenticated via headers) covering both
// self-hosted and third-party hosted servers.
//
// The tool registry consumes this package through Client: Connect performs
// the initialize handshake, ListTools discovers the server's tools and
// CallTool executes one. Everything else about MCP (resources, prompts,
// sampling) is out of scope here.
package mcp
