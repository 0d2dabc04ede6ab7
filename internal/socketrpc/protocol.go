package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the collector's read surface over a Unix
// domain socket, one newline-delimited JSON object per request and response.
//
//   Method              Params                          Result
//   ────────────────    ────────────────────────────    ─────────────────────
//   GetMetrics          model.MetricQuery               []model.Metric
//   GetLogs             model.LogQuery                  []model.Log
//   GetAlerts           model.AlertQuery                []model.Alert
//   Stats               (none)                          model.Stats
//   AcknowledgeAlert    {id: string, by: string}        bool
//
// Query params may be empty or null, which matches everything up to the
// default limit. AcknowledgeAlert is only served when the backing API
// supports it.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (query failure)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

type ackParams struct {
	ID string `json:"id"`
	By string `json:"by"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/pulse/pulse.sock, falling back to
// ~/.local/state/pulse/pulse.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "pulse", "pulse.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/pulse.sock"
	}
	return filepath.Join(home, ".local", "state", "pulse", "pulse.sock")
}
