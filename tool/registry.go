package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/logging"
	"github.com/maplemetrics/finagent/mcp"
)

// entry binds one aggregated tool name to its descriptor, its compiled
// argument schema and the invocation handle on its source transport.
type entry struct {
	descriptor Descriptor
	schema     *jsonschema.Schema // nil when the source declared no schema
	source     string             // server id or "native"
	invoke     func(ctx context.Context, args map[string]any) (string, error)
}

// Registry aggregates callable tools from N independently configured MCP
// servers plus any native tools into one flat name->handle mapping.
// Aggregation happens once at build time; afterwards the registry is
// read-only shared state reused by all invocations. Close tears down every
// transport and is idempotent.
type Registry struct {
	tools     map[string]entry
	clients   []*mcp.Client
	logger    logging.Logger
	closeOnce sync.Once
	closeErr  error
}

// RegistryOptions configures registry construction.
type RegistryOptions struct {
	// NativeTools are in-process tools merged into the same name space as
	// the MCP-provided ones.
	NativeTools []Tool

	// Logger used during aggregation and invocation. Defaults to NoOp.
	Logger logging.Logger
}

// BuildRegistry connects to every configured MCP server, discovers its tools
// and merges everything into a registry.
//
// Failure policy: an invalid server config is a ConfigurationError (fatal).
// A server that fails to connect or list is degraded out with a warning. A
// tool name collision across sources is a ConfigurationError. Zero aggregated
// tools is a ConfigurationError.
func BuildRegistry(ctx context.Context, cfgs []mcp.ServerConfig, optFns ...func(o *RegistryOptions)) (*Registry, error) {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{tools: make(map[string]entry), logger: opts.Logger}

	for i := range cfgs {
		cfg := cfgs[i]
		if err := cfg.Validate(); err != nil {
			r.teardown()
			return nil, core.NewConfigurationError(cfg.ID, "invalid transport config: %v", err)
		}

		client := mcp.NewClient(&cfg, opts.Logger)
		if err := client.Connect(ctx); err != nil {
			opts.Logger.Warn("mcp server unavailable, degrading its tools out", "server", cfg.ID, "error", err)
			continue
		}

		infos, err := client.ListTools(ctx)
		if err != nil {
			opts.Logger.Warn("tool listing failed, degrading server out", "server", cfg.ID, "error", err)
			_ = client.Close()
			continue
		}
		r.clients = append(r.clients, client)

		for _, info := range infos {
			if err := r.addRemote(client, cfg.ID, info); err != nil {
				r.teardown()
				return nil, err
			}
		}
		opts.Logger.Info("aggregated mcp server tools", "server", cfg.ID, "count", len(infos))
	}

	for _, t := range opts.NativeTools {
		if err := r.addNative(t); err != nil {
			r.teardown()
			return nil, err
		}
	}

	if len(r.tools) == 0 {
		r.teardown()
		return nil, core.NewConfigurationError("", "no tools aggregated from any transport")
	}
	return r, nil
}

// WithNativeTools merges in-process tools into the registry.
func WithNativeTools(tools ...Tool) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.NativeTools = append(o.NativeTools, tools...) }
}

// WithRegistryLogger overrides the registry logger.
func WithRegistryLogger(logger logging.Logger) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.Logger = logger }
}

func (r *Registry) addRemote(client *mcp.Client, serverID string, info mcp.ToolInfo) error {
	schemaMap, compiled, err := parseSchema(info.InputSchema)
	if err != nil {
		return core.NewConfigurationError(info.Name, "invalid input schema from server %s: %v", serverID, err)
	}
	name := info.Name
	return r.add(entry{
		descriptor: Descriptor{Name: name, Description: info.Description, InputSchema: schemaMap},
		schema:     compiled,
		source:     serverID,
		invoke: func(ctx context.Context, args map[string]any) (string, error) {
			result, err := client.CallTool(ctx, name, args)
			if err != nil {
				return "", core.NewToolError(name, core.ToolCodeTransport, err.Error(), err)
			}
			if result.IsError {
				return "", core.NewToolError(name, core.ToolCodeTransport, result.Text(), nil)
			}
			return result.Text(), nil
		},
	})
}

func (r *Registry) addNative(t Tool) error {
	params := t.Parameters()
	var compiled *jsonschema.Schema
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return core.NewConfigurationError(t.Name(), "invalid native tool schema: %v", err)
		}
		if compiled, err = jsonschema.CompileString(t.Name()+".schema.json", string(raw)); err != nil {
			return core.NewConfigurationError(t.Name(), "invalid native tool schema: %v", err)
		}
	}
	name := t.Name()
	return r.add(entry{
		descriptor: Descriptor{Name: name, Description: t.Description(), InputSchema: params},
		schema:     compiled,
		source:     "native",
		invoke:     t.Call,
	})
}

func (r *Registry) add(e entry) error {
	if existing, ok := r.tools[e.descriptor.Name]; ok {
		return core.NewConfigurationError(e.descriptor.Name,
			"tool name collision between %s and %s", existing.source, e.source)
	}
	r.tools[e.descriptor.Name] = e
	return nil
}

// parseSchema decodes a raw schema into a map and compiles it for argument
// validation. An absent schema yields (nil, nil, nil).
func parseSchema(raw json.RawMessage) (map[string]any, *jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		return nil, nil, fmt.Errorf("decode schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", string(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("compile schema: %w", err)
	}
	return schemaMap, compiled, nil
}

// List returns the aggregated tool descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	descriptors := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		descriptors = append(descriptors, e.descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke executes the named tool with the given arguments and returns the
// observation text. Errors carry a *core.ToolError: NOT_FOUND for unknown
// names, ARGUMENT for schema violations, TRANSPORT for backend or timeout
// failures.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	e, ok := r.tools[name]
	if !ok {
		return "", core.NewToolError(name, core.ToolCodeNotFound, "tool not registered", nil)
	}

	if e.schema != nil {
		if err := validateArgs(e.schema, args); err != nil {
			return "", core.NewToolError(name, core.ToolCodeArgument, err.Error(), err)
		}
	}

	observation, err := e.invoke(ctx, args)
	if err != nil {
		var te *core.ToolError
		if errors.As(err, &te) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", core.NewToolError(name, core.ToolCodeTransport, ctx.Err().Error(), ctx.Err())
		}
		return "", core.NewToolError(name, core.ToolCodeTransport, err.Error(), err)
	}
	return observation, nil
}

// validateArgs round-trips args through JSON so nested values match the
// plain-interface shapes the validator expects.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(decoded)
}

// Close tears down every transport held by the registry. Safe to call more
// than once and on a registry that never opened a connection.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.teardown() })
	return r.closeErr
}

func (r *Registry) teardown() error {
	var firstErr error
	for _, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.clients = nil
	return firstErr
}
