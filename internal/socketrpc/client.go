package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

const defaultCallTimeout = 30 * time.Second

// Client implements model.Querier over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest. The
// connection deadline follows ctx, or defaultCallTimeout when ctx has none.
func (c *Client) call(ctx context.Context, method string, params any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id && resp.Error == nil {
		return fmt.Errorf("socketrpc: response id %d does not match request %d", resp.ID, id)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) GetMetrics(ctx context.Context, q model.MetricQuery) ([]model.Metric, error) {
	var result []model.Metric
	err := c.call(ctx, "GetMetrics", q, &result)
	return result, err
}

func (c *Client) GetLogs(ctx context.Context, q model.LogQuery) ([]model.Log, error) {
	var result []model.Log
	err := c.call(ctx, "GetLogs", q, &result)
	return result, err
}

func (c *Client) GetAlerts(ctx context.Context, q model.AlertQuery) ([]model.Alert, error) {
	var result []model.Alert
	err := c.call(ctx, "GetAlerts", q, &result)
	return result, err
}

// Stats fetches the collector's buffer and provider counts.
func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	var result model.Stats
	err := c.call(ctx, "Stats", nil, &result)
	return result, err
}

// AcknowledgeAlert marks an alert acknowledged. It reports false when the
// alert is unknown.
func (c *Client) AcknowledgeAlert(ctx context.Context, id, by string) (bool, error) {
	var result bool
	err := c.call(ctx, "AcknowledgeAlert", ackParams{ID: id, By: by}, &result)
	return result, err
}
