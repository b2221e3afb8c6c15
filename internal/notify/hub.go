// Package notify pushes read-cache invalidations to out-of-process readers
// over websocket, and provides the in-process tag cache those readers use.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageTypeInvalidate is the only message type the hub sends.
const MessageTypeInvalidate = "invalidate"

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

// Invalidation is the JSON message broadcast after a sync pass.
type Invalidation struct {
	Type       string    `json:"type"`
	Categories []string  `json:"categories"`
	At         time.Time `json:"at"`
}

// Hub tracks connected websocket clients and broadcasts invalidations to
// them. The zero value is not usable; call NewHub.
type Hub struct {
	logger  *slog.Logger
	mux     *http.ServeMux
	nowFunc func() time.Time

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a hub serving /ws and /health.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		logger:  logger,
		mux:     http.NewServeMux(),
		nowFunc: time.Now,
		clients: make(map[*websocket.Conn]struct{}),
	}

	h.mux.HandleFunc("GET /ws", h.serveWS)
	h.mux.HandleFunc("GET /health", h.serveHealth)

	return h
}

// Handle registers an extra handler on the hub's mux.
func (h *Hub) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// BroadcastInvalidation sends an invalidation to every connected client.
// Clients whose write fails are disconnected; their errors are joined.
func (h *Hub) BroadcastInvalidation(ctx context.Context, categories []string) error {
	data, err := json.Marshal(Invalidation{
		Type:       MessageTypeInvalidate,
		Categories: categories,
		At:         h.nowFunc().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: encoding invalidation: %w", err)
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var errs []error

	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(wctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			errs = append(errs, err)
			h.remove(c, websocket.StatusInternalError)
		}
	}

	h.logger.Debug("invalidation broadcast",
		slog.Any("categories", categories),
		slog.Int("clients", len(conns)),
		slog.Int("failed", len(errs)),
	)

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d clients failed: %w", len(errs), len(conns), errors.Join(errs...))
	}

	return nil
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("cache client connected",
		slog.String("remote", r.RemoteAddr),
		slog.Int("clients", n),
	)

	// Clients only listen. CloseRead discards anything they send and
	// cancels ctx once the connection is gone.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()

	h.remove(conn, websocket.StatusNormalClosure)
}

func (h *Hub) remove(conn *websocket.Conn, code websocket.StatusCode) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	_ = conn.Close(code, "")

	h.logger.Info("cache client disconnected", slog.Int("clients", n))
}

func (h *Hub) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": h.ClientCount(),
	})
}

// closeAll disconnects every client with StatusGoingAway.
func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.remove(c, websocket.StatusGoingAway)
	}
}

// ListenAndServe serves the hub on addr until ctx is canceled, then
// disconnects clients and shuts the server down.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: listen on %s: %w", addr, err)
	}

	return h.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	h.logger.Info("notify hub listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("notify: serve: %w", err)
	case <-ctx.Done():
	}

	// Hijacked websocket connections are invisible to Shutdown.
	h.closeAll()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("notify: shutdown: %w", err)
	}

	h.logger.Info("notify hub stopped")

	return nil
}
