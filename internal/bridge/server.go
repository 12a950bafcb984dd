package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/codexgui/internal/log"
)

// DefaultAddr is where the bridge listens when no address is configured.
const DefaultAddr = "127.0.0.1:7311"

const shutdownTimeout = 5 * time.Second

// Server accepts WebSocket clients and serves the registry's methods.
type Server struct {
	addr       string
	registry   *Registry
	upgrader   websocket.Upgrader
	httpServer *http.Server

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.RWMutex
	conns    map[*connection]struct{}
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for addr. Nothing listens until Start.
func NewServer(addr string, registry *Registry) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:       addr,
		registry:   registry,
		baseCtx:    ctx,
		cancelBase: cancel,
		conns:      make(map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			// The bridge binds to loopback; the UI may be served from any origin.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Registry returns the method registry.
func (s *Server) Registry() *Registry { return s.registry }

// Handler exposes the WebSocket endpoint for mounting elsewhere or in tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return errors.New("server is shutting down")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatBridge, "Bridge server stopped", err)
		}
	}()
	log.Info(log.CatBridge, "Bridge listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every client and waits briefly for them to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	started := s.listener != nil
	s.mu.Unlock()

	s.cancelBase()
	s.closeAll()

	if started {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn(log.CatBridge, "Timed out waiting for connections to finish")
	}
	return nil
}

// Broadcast sends a notification to every connected client and returns
// how many accepted it.
func (s *Server) Broadcast(method string, params any) int {
	raw, err := json.Marshal(params)
	if err != nil {
		log.ErrorErr(log.CatBridge, "Failed to marshal broadcast", err, "method", method)
		return 0
	}
	data, err := json.Marshal(notification{JSONRPC: "2.0", Method: method, Params: raw})
	if err != nil {
		log.ErrorErr(log.CatBridge, "Failed to marshal broadcast", err, "method", method)
		return 0
	}

	sent := 0
	for _, c := range s.snapshot() {
		if err := c.send(data); err != nil {
			log.Debug(log.CatBridge, "Broadcast dropped", "method", method, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// ConnCount returns the number of connected clients.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) snapshot() []*connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) closeAll() {
	for _, c := range s.snapshot() {
		c.close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Hold the read lock across the shutdown check and wg.Add so Stop
	// cannot start waiting in between.
	s.mu.RLock()
	if s.shutdown {
		s.mu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		log.ErrorErr(log.CatBridge, "WebSocket upgrade failed", err)
		return
	}
	go s.handleConnection(conn)
}

func (s *Server) handleConnection(ws *websocket.Conn) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	c := newConnection(ws, s.registry)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	log.Debug(log.CatBridge, "Client connected", "remote", ws.RemoteAddr().String())

	errCh := make(chan error, 2)
	go func() { errCh <- c.readLoop(ctx) }()
	go func() { errCh <- c.writeLoop(ctx) }()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		log.Debug(log.CatBridge, "Connection ended", "error", err)
	}

	cancel()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.close()
	_ = ws.Close()
	<-errCh
	c.inflight.Wait()
	log.Debug(log.CatBridge, "Client disconnected", "remote", ws.RemoteAddr().String())
}
