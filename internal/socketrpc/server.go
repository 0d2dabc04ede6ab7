package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
	// callTimeout bounds a single dispatched call.
	callTimeout = 30 * time.Second
)

// AlertAcknowledger is the optional write the server exposes alongside reads.
type AlertAcknowledger interface {
	AcknowledgeAlert(ctx context.Context, id, by string) (bool, error)
}

// Server exposes a model.ReadAPI over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	api        model.ReadAPI
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

// NewServer creates a new socket RPC server. If api also implements
// AlertAcknowledger the AcknowledgeAlert method is served.
func NewServer(socketPath string, api model.ReadAPI) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		api:        api,
		quit:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("socketrpc: listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener, waits for connections to drain, and removes the
// socket file. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Printf("socketrpc: accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the server stops.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-connDone:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: codeParseError, Message: "parse error"}}
			encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

// decodeOptional unmarshals params into dest, accepting empty or null params.
func decodeOptional(params json.RawMessage, dest any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	return json.Unmarshal(params, dest)
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: codeApplication, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
	defer cancel()

	switch req.Method {
	case "GetMetrics":
		var q model.MetricQuery
		if err := decodeOptional(req.Params, &q); err != nil {
			return invalidParams(err)
		}
		metrics, err := s.api.GetMetrics(ctx, q)
		if metrics == nil {
			metrics = []model.Metric{}
		}
		return marshalResult(metrics, err)

	case "GetLogs":
		var q model.LogQuery
		if err := decodeOptional(req.Params, &q); err != nil {
			return invalidParams(err)
		}
		logs, err := s.api.GetLogs(ctx, q)
		if logs == nil {
			logs = []model.Log{}
		}
		return marshalResult(logs, err)

	case "GetAlerts":
		var q model.AlertQuery
		if err := decodeOptional(req.Params, &q); err != nil {
			return invalidParams(err)
		}
		alerts, err := s.api.GetAlerts(ctx, q)
		if alerts == nil {
			alerts = []model.Alert{}
		}
		return marshalResult(alerts, err)

	case "Stats":
		return marshalResult(s.api.Stats(), nil)

	case "AcknowledgeAlert":
		acker, ok := s.api.(AlertAcknowledger)
		if !ok {
			break
		}
		var p ackParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if p.ID == "" || p.By == "" {
			return invalidParams(fmt.Errorf("id and by are required"))
		}
		return marshalResult(acker.AcknowledgeAlert(ctx, p.ID, p.By))
	}

	resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	return resp
}
