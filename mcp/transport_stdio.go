package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maplemetrics/finagent/logging"
)

// StdioTransport runs an MCP server as a local subprocess and exchanges
// line-delimited JSON-RPC messages over its stdin/stdout pipes. Responses
// are matched to requests through a pending-call map keyed by request id.
type StdioTransport struct {
	cfg    *ServerConfig
	logger logging.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[int64]chan *jsonrpcResponse
	pendingMu sync.Mutex
	writeMu   sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStdioTransport creates a stdio transport for the given server config.
func NewStdioTransport(cfg *ServerConfig, optFns ...func(t *StdioTransport)) *StdioTransport {
	t := &StdioTransport{
		cfg:      cfg,
		logger:   logging.NoOpLogger{},
		pending:  make(map[int64]chan *jsonrpcResponse),
		stopChan: make(chan struct{}),
	}
	for _, fn := range optFns {
		fn(t)
	}
	return t
}

// WithStdioLogger overrides the transport logger.
func WithStdioLogger(logger logging.Logger) func(t *StdioTransport) {
	return func(t *StdioTransport) { t.logger = logger }
}

// Connect starts the subprocess and the reader goroutines. The ctx bounds
// connection setup only; the subprocess must outlive it and runs until Close
// kills it.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.cfg.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.process = exec.Command(t.cfg.Command, t.cfg.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.cfg.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var err error
	if t.stdin, err = t.process.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)
	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.connected.Store(true)
	t.logger.Info("mcp server process started", "server", t.cfg.ID, "command", t.cfg.Command, "pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()
	if t.stderr != nil {
		t.wg.Add(1)
		go t.drainStderr()
	}
	return nil
}

// Close stops the subprocess. Idempotent and safe on a never-connected transport.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.process != nil && t.process.Process != nil {
			_ = t.process.Process.Kill()
		}
		t.wg.Wait()
	})
	return nil
}

// Call sends a request line and waits for the matching response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}

	respChan := make(chan *jsonrpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeLine(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.cfg.CallTimeout()):
		return nil, fmt.Errorf("request timeout after %v", t.cfg.CallTimeout())
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify sends a one-way notification line.
func (t *StdioTransport) Notify(_ context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return t.writeLine(jsonrpcRequest{JSONRPC: "2.0", Method: method, Params: raw})
}

// Connected reports whether the subprocess is up.
func (t *StdioTransport) Connected() bool { return t.connected.Load() }

func (t *StdioTransport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readLoop reads stdout lines and routes responses to pending callers.
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpcResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			continue // notification or garbage, neither is routed
		}
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		case int:
			id = int64(v)
		default:
			t.logger.Warn("unexpected response id type", "server", t.cfg.ID, "id", resp.ID)
			continue
		}

		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	}

	if err := t.stdout.Err(); err != nil {
		t.logger.Error("stdout scanner error", "server", t.cfg.ID, "error", err)
	}
}

// drainStderr logs subprocess stderr lines at debug level.
func (t *StdioTransport) drainStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			t.logger.Debug("mcp server stderr", "server", t.cfg.ID, "message", line)
		}
	}
}
