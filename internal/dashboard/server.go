// Package dashboard provides a real-time WebSocket view of sync state.
//
// The server broadcasts pending-count snapshots and pipeline completion
// events to connected clients, so a browser or monitoring script can
// watch the backlog drain without polling the daemon.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/miniclick/calltrackd/internal/status"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStatus carries a sync status snapshot
	MessageTypeStatus MessageType = "status"

	// MessageTypeIngest indicates an ingestion run finished
	MessageTypeIngest MessageType = "ingest_complete"

	// MessageTypeResolve indicates a recording sweep finished
	MessageTypeResolve MessageType = "resolve_complete"

	// MessageTypeReconcile indicates a server-update batch was applied
	MessageTypeReconcile MessageType = "reconcile_complete"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IngestData summarizes a completed ingestion run
type IngestData struct {
	Scanned  int `json:"scanned"`
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

// ResolveData summarizes a completed recording sweep
type ResolveData struct {
	FilesScanned   int `json:"files_scanned"`
	Matched        int `json:"matched"`
	MarkedNotFound int `json:"marked_not_found"`
}

// ReconcileData summarizes an applied server-update batch
type ReconcileData struct {
	Applied int `json:"applied"`
	Dropped int `json:"dropped"`
}

// Server manages WebSocket connections and broadcasts sync state
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// lastStatus is replayed to newly connected clients so they see
	// the current backlog before the next change.
	lastStatus   *status.Snapshot
	lastStatusMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server listening on addr.
func NewServer(addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// PublishStatus broadcasts a status snapshot and retains it for clients
// that connect later.
func (s *Server) PublishStatus(snap status.Snapshot) {
	s.lastStatusMu.Lock()
	s.lastStatus = &snap
	s.lastStatusMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Printf("failed to marshal status: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeStatus, Data: data})
}

// PublishEvent broadcasts a pipeline completion event.
func (s *Server) PublishEvent(msgType MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("failed to marshal %s event: %v", msgType, err)
		return
	}
	s.Broadcast(Message{Type: msgType, Data: data})
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("client connected (total: %d)", clientCount)

	// Replay the latest status so the client starts with current state.
	s.lastStatusMu.RLock()
	last := s.lastStatus
	s.lastStatusMu.RUnlock()
	if last != nil {
		if data, err := json.Marshal(last); err == nil {
			welcome, _ := json.Marshal(Message{
				Type: MessageTypeStatus, Timestamp: time.Now(), Data: data,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, welcome)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed.
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleStatus returns the latest snapshot over plain HTTP for clients
// that don't speak WebSocket.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.lastStatusMu.RLock()
	last := s.lastStatus
	s.lastStatusMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if last == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no snapshot yet"})
		return
	}
	_ = json.NewEncoder(w).Encode(last)
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>calltrackd</title>
</head>
<body>
    <h1>calltrackd sync dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Latest snapshot: <a href="/status">/status</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
