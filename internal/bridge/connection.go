package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/codexgui/internal/log"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 256
)

var errConnClosed = errors.New("connection closed")

// Notifier sends server-initiated notifications to one client.
type Notifier interface {
	Notify(method string, params any) error
}

type notifierKey struct{}

// NotifierFrom returns the connection that issued the current request.
func NotifierFrom(ctx context.Context) (Notifier, bool) {
	n, ok := ctx.Value(notifierKey{}).(Notifier)
	return n, ok
}

// WithNotifier attaches n to ctx. Handlers read it with NotifierFrom.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// connection is one WebSocket client.
type connection struct {
	conn     *websocket.Conn
	registry *Registry
	sendCh   chan []byte

	mu     sync.Mutex
	closed bool

	inflight sync.WaitGroup
}

func newConnection(conn *websocket.Conn, registry *Registry) *connection {
	return &connection{
		conn:     conn,
		registry: registry,
		sendCh:   make(chan []byte, sendBuffer),
	}
}

// readLoop reads requests until the client goes away. Each single request
// is served on its own goroutine so a long call does not block the client's
// other requests; responses may therefore arrive out of order.
func (c *connection) readLoop(ctx context.Context) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil
		}

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			if err := c.handleMessage(ctx, message); err != nil && !errors.Is(err, errConnClosed) {
				log.ErrorErr(log.CatBridge, "Failed to send response", err)
			}
		}()
	}
}

func (c *connection) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case message, ok := <-c.sendCh:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return nil
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("write error: %w", err)
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping error: %w", err)
			}
		}
	}
}

// send queues a frame. A full buffer drops the frame.
func (c *connection) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Notify sends a JSON-RPC notification (no id).
func (c *connection) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal notification params: %w", err)
	}
	data, err := json.Marshal(notification{JSONRPC: "2.0", Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.send(data)
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
}

func (c *connection) handleMessage(ctx context.Context, data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return c.handleBatch(ctx, data)
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return c.sendJSON(response{JSONRPC: "2.0", Error: &Error{
			Code: CodeParseError, Message: "Parse error", Data: err.Error(),
		}})
	}
	resp, ok := c.process(ctx, req)
	if !ok {
		return nil
	}
	return c.sendJSON(resp)
}

func (c *connection) handleBatch(ctx context.Context, data []byte) error {
	var reqs []request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return c.sendJSON(response{JSONRPC: "2.0", Error: &Error{
			Code: CodeParseError, Message: "Parse error", Data: err.Error(),
		}})
	}
	if len(reqs) == 0 {
		return c.sendJSON(response{JSONRPC: "2.0", Error: &Error{
			Code: CodeInvalidRequest, Message: "Invalid request", Data: "batch request cannot be empty",
		}})
	}

	var out []response
	for _, req := range reqs {
		if resp, ok := c.process(ctx, req); ok {
			out = append(out, resp)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return c.sendJSON(out)
}

// process runs one request. The second result is false for notifications,
// which get no response.
func (c *connection) process(ctx context.Context, req request) (response, bool) {
	isNotification := req.ID == nil
	resp := response{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" {
		resp.Error = &Error{Code: CodeInvalidRequest, Message: "Invalid request", Data: "jsonrpc field must be '2.0'"}
		return resp, !isNotification
	}

	handler, ok := c.registry.Lookup(req.Method)
	if !ok {
		resp.Error = &Error{
			Code:    CodeMethodNotFound,
			Message: "Method not found",
			Data:    fmt.Sprintf("method '%s' is not registered", req.Method),
		}
		return resp, !isNotification
	}

	params := req.Params
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}

	result, err := handler(WithNotifier(ctx, c), params)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			resp.Error = rpcErr
		} else {
			resp.Error = &Error{Code: CodeServerError, Message: err.Error()}
		}
		log.Debug(log.CatBridge, "Request failed", "method", req.Method, "error", err)
		return resp, !isNotification
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = &Error{Code: CodeInternalError, Message: "Internal error", Data: err.Error()}
		return resp, !isNotification
	}
	resp.Result = raw
	return resp, !isNotification
}

func (c *connection) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return c.send(data)
}

type request struct {
	JSONRPC string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

type response struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
	ID      *json.RawMessage `json:"id"`
}

type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}
