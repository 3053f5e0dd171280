package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxelstream/server/internal/compression"
	"github.com/voxelstream/server/internal/engine"
	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/streaming"
	"github.com/voxelstream/server/internal/voxel"
)

const (
	// Supported WebSocket protocol versions
	ProtocolVersion1 = "voxelstream-v1"

	// Default ping interval (30 seconds)
	defaultPingInterval = 30 * time.Second

	// Pong wait timeout (60 seconds)
	pongWait = 60 * time.Second

	// Write timeout (10 seconds)
	writeTimeout = 10 * time.Second

	// Maximum size of a client message
	maxMessageSize = 4096

	minSendBuffer = 256
)

// Message types sent and received over the feed.
const (
	MessageWelcome      = "welcome"
	MessageChunkLoaded  = "chunk_loaded"
	MessageChunkEvicted = "chunk_evicted"
	MessageWindow       = "window"
	MessagePing         = "ping"
	MessagePong         = "pong"
	MessageViewerUpdate = "viewer_update"
	MessageError        = "error"
)

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WelcomeData is sent once after the handshake.
type WelcomeData struct {
	ClientID  string `json:"client_id"`
	Protocol  string `json:"protocol"`
	Seed      uint64 `json:"seed"`
	ChunkSize int    `json:"chunk_size"`
}

// ChunkLoadedData carries a newly loaded chunk. Payload is the zstd-encoded
// voxel list.
type ChunkLoadedData struct {
	Summary voxel.Summary                `json:"summary"`
	Payload *compression.CompressedChunk `json:"payload,omitempty"`
}

// ChunkEvictedData names a chunk that left the cache.
type ChunkEvictedData struct {
	Coord gridmap.Coord `json:"coord"`
}

// ViewerUpdate is the camera position published by a client.
type ViewerUpdate struct {
	X *float32 `json:"x"`
	Y *float32 `json:"y"`
	Z *float32 `json:"z"`
}

// WebSocketConnection represents an active WebSocket connection
type WebSocketConnection struct {
	id      uuid.UUID
	conn    *websocket.Conn
	version string
	send    chan []byte
	hub     *WebSocketHub
}

// WebSocketHub fans engine events out to every connected client and keeps
// the viewer position each connected client last reported. It implements
// engine.Sink, engine.WindowSink and engine.ViewerSource.
type WebSocketHub struct {
	seed uint64

	connections map[*WebSocketConnection]bool
	broadcast   chan []byte
	register    chan *WebSocketConnection
	unregister  chan *WebSocketConnection
	done        chan struct{}
	mu          sync.RWMutex

	viewerMu  sync.Mutex
	viewers   map[uuid.UUID]viewerReport
	viewerSeq uint64
}

// viewerReport is one client's latest position; seq orders reports across
// clients.
type viewerReport struct {
	pos mgl32.Vec3
	seq uint64
}

var (
	_ engine.Sink         = (*WebSocketHub)(nil)
	_ engine.WindowSink   = (*WebSocketHub)(nil)
	_ engine.ViewerSource = (*WebSocketHub)(nil)
)

// NewWebSocketHub creates a new WebSocket hub for a world.
func NewWebSocketHub(seed uint64) *WebSocketHub {
	return &WebSocketHub{
		seed:        seed,
		connections: make(map[*WebSocketConnection]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *WebSocketConnection),
		unregister:  make(chan *WebSocketConnection),
		done:        make(chan struct{}),
		viewers:     make(map[uuid.UUID]viewerReport),
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled, after
// closing every connection's send queue.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.connections {
				close(conn.send)
				delete(h.connections, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			log.Printf("[WS] Connection registered: client_id=%s, version=%s", conn.id, conn.version)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
			}
			h.mu.Unlock()
			h.forgetViewer(conn.id)
			log.Printf("[WS] Connection unregistered: client_id=%s", conn.id)

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				select {
				case conn.send <- message:
				default:
					log.Printf("Warning: [WS] dropping slow client %s", conn.id)
					close(conn.send)
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for all connected clients without blocking.
func (h *WebSocketHub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Printf("Warning: [WS] broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of registered connections.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *WebSocketHub) addConnection(c *WebSocketConnection) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *WebSocketHub) removeConnection(c *WebSocketConnection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ChunkLoaded broadcasts the chunk summary and compressed voxels.
func (h *WebSocketHub) ChunkLoaded(chunk *voxel.Chunk) {
	if h.ClientCount() == 0 {
		return
	}
	msg, err := h.chunkLoadedMessage(chunk)
	if err != nil {
		log.Printf("[WS] Failed to build chunk_loaded for %s: %v", chunk.Coord, err)
		return
	}
	h.Broadcast(msg)
}

// ChunkEvicted broadcasts a chunk_evicted message.
func (h *WebSocketHub) ChunkEvicted(coord gridmap.Coord) {
	if h.ClientCount() == 0 {
		return
	}
	msg, err := encodeMessage(MessageChunkEvicted, "", ChunkEvictedData{Coord: coord})
	if err != nil {
		log.Printf("[WS] Failed to build chunk_evicted for %s: %v", coord, err)
		return
	}
	h.Broadcast(msg)
}

// WindowChanged broadcasts the viewer's new chunk window.
func (h *WebSocketHub) WindowChanged(delta streaming.WindowDelta) {
	if h.ClientCount() == 0 {
		return
	}
	msg, err := encodeMessage(MessageWindow, "", delta)
	if err != nil {
		log.Printf("[WS] Failed to build window message: %v", err)
		return
	}
	h.Broadcast(msg)
}

// Viewer returns the most recent position reported by a connected client,
// or nil when none has reported one.
func (h *WebSocketHub) Viewer() *mgl32.Vec3 {
	h.viewerMu.Lock()
	defer h.viewerMu.Unlock()
	var latest *viewerReport
	for _, report := range h.viewers {
		if latest == nil || report.seq > latest.seq {
			r := report
			latest = &r
		}
	}
	if latest == nil {
		return nil
	}
	pos := latest.pos
	return &pos
}

func (h *WebSocketHub) setViewer(from uuid.UUID, pos mgl32.Vec3) {
	h.viewerMu.Lock()
	h.viewerSeq++
	h.viewers[from] = viewerReport{pos: pos, seq: h.viewerSeq}
	h.viewerMu.Unlock()
}

// forgetViewer drops the position reported by id. The viewer falls back to
// the latest report of a client that is still connected.
func (h *WebSocketHub) forgetViewer(id uuid.UUID) {
	h.viewerMu.Lock()
	delete(h.viewers, id)
	h.viewerMu.Unlock()
}

func (h *WebSocketHub) chunkLoadedMessage(chunk *voxel.Chunk) ([]byte, error) {
	payload, err := compression.FormatChunk(chunk, h.seed)
	if err != nil {
		return nil, fmt.Errorf("failed to compress chunk: %w", err)
	}
	return encodeMessage(MessageChunkLoaded, "", ChunkLoadedData{
		Summary: chunk.Summarize(),
		Payload: payload,
	})
}

func encodeMessage(msgType, id string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebSocketMessage{Type: msgType, ID: id, Data: raw})
}

// WebSocketHandlers handles WebSocket connections
type WebSocketHandlers struct {
	hub      *WebSocketHub
	engine   *engine.Engine
	upgrader websocket.Upgrader
}

// NewWebSocketHandlers creates a new WebSocket handlers instance. Browser
// handshakes are accepted only from allowedOrigins; handshakes without an
// Origin header are rejected when requireOrigin is set.
func NewWebSocketHandlers(hub *WebSocketHub, e *engine.Engine, allowedOrigins []string, requireOrigin bool) *WebSocketHandlers {
	return &WebSocketHandlers{
		hub:    hub,
		engine: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"), !requireOrigin)
			},
		},
	}
}

// Hub returns the hub behind these handlers.
func (h *WebSocketHandlers) Hub() *WebSocketHub {
	return h.hub
}

// HandleWebSocket upgrades the connection, sends a welcome message and the
// chunks already loaded, then streams engine events.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	requestedVersions := r.Header.Get("Sec-WebSocket-Protocol")
	selectedVersion := h.negotiateVersion(requestedVersions)
	if selectedVersion == "" {
		log.Printf("[WS] Version negotiation failed: requested=%s", requestedVersions)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	var responseHeaders http.Header
	if requestedVersions != "" {
		responseHeaders = http.Header{}
		responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)
	}

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	wsConn := &WebSocketConnection{
		id:      uuid.New(),
		conn:    conn,
		version: selectedVersion,
		send:    make(chan []byte, h.engine.Cache().Capacity()+minSendBuffer),
		hub:     h.hub,
	}

	h.sendWelcome(wsConn)
	if !h.hub.addConnection(wsConn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}

	// The snapshot follows registration so no chunk loaded in between is
	// missed. A chunk may arrive twice; chunk_loaded is idempotent for clients.
	h.sendSnapshot(wsConn)

	go wsConn.writePump()
	go wsConn.readPump(h)
}

func (h *WebSocketHandlers) sendWelcome(c *WebSocketConnection) {
	msg, err := encodeMessage(MessageWelcome, "", WelcomeData{
		ClientID:  c.id.String(),
		Protocol:  c.version,
		Seed:      h.engine.Seed(),
		ChunkSize: h.engine.Options().ChunkSize,
	})
	if err != nil {
		log.Printf("[WS] Failed to marshal welcome: %v", err)
		return
	}
	c.enqueue(msg)
}

// sendSnapshot queues a chunk_loaded message for every chunk already in the
// cache, oldest first.
func (h *WebSocketHandlers) sendSnapshot(c *WebSocketConnection) {
	for _, coord := range h.engine.Cache().Keys() {
		chunk, ok := h.engine.Cache().Peek(coord)
		if !ok {
			continue
		}
		msg, err := h.hub.chunkLoadedMessage(chunk)
		if err != nil {
			log.Printf("[WS] Failed to build snapshot chunk %s: %v", coord, err)
			continue
		}
		if !c.enqueue(msg) {
			return
		}
	}
}

// negotiateVersion selects the highest supported protocol version
func (h *WebSocketHandlers) negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	requestedVersions := strings.Split(requested, ",")
	for i := range requestedVersions {
		requestedVersions[i] = strings.TrimSpace(requestedVersions[i])
	}

	// Supported versions in order (highest first)
	supportedVersions := []string{ProtocolVersion1}

	for _, supported := range supportedVersions {
		for _, requested := range requestedVersions {
			if requested == supported {
				return supported
			}
		}
	}

	return ""
}

// enqueue queues message for this connection without blocking. It reports
// false when the queue is full or already closed.
func (c *WebSocketConnection) enqueue(message []byte) (ok bool) {
	defer func() {
		// The hub closes send when it drops a connection.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- message:
		return true
	default:
		log.Printf("Warning: [WS] send queue full for client %s", c.id)
		return false
	}
}

// readPump handles incoming messages from the WebSocket connection
func (c *WebSocketConnection) readPump(handlers *WebSocketHandlers) {
	defer func() {
		c.hub.removeConnection(c)
		if err := c.conn.Close(); err != nil {
			log.Printf("[WS] Failed to close connection: %v", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[WS] Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("", "Invalid message format", "InvalidMessageFormat")
			continue
		}

		handlers.handleMessage(c, &msg)
	}
}

// writePump handles outgoing messages to the WebSocket connection. Each
// message is written as its own text frame.
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("[WS] Failed to set write deadline: %v", err)
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					log.Printf("[WS] Failed to write close message: %v", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("[WS] Failed to set write deadline for ping: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError sends an error message to the client
func (c *WebSocketConnection) sendError(id, errorMsg, code string) {
	messageBytes, err := json.Marshal(WebSocketError{
		Type:    MessageError,
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	})
	if err != nil {
		log.Printf("[WS] Failed to marshal error message: %v", err)
		return
	}
	c.enqueue(messageBytes)
}

// handleMessage routes messages to appropriate handlers
func (h *WebSocketHandlers) handleMessage(conn *WebSocketConnection, msg *WebSocketMessage) {
	switch msg.Type {
	case MessagePing:
		h.handlePing(conn, msg)
	case MessageViewerUpdate:
		h.handleViewerUpdate(conn, msg)
	default:
		conn.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
	}
}

// handlePing responds to ping messages
func (h *WebSocketHandlers) handlePing(conn *WebSocketConnection, msg *WebSocketMessage) {
	responseBytes, err := json.Marshal(WebSocketMessage{Type: MessagePong, ID: msg.ID})
	if err != nil {
		log.Printf("[WS] Failed to marshal pong response: %v", err)
		return
	}
	conn.enqueue(responseBytes)
}

// handleViewerUpdate records the client's camera position for the engine's
// next tick.
func (h *WebSocketHandlers) handleViewerUpdate(conn *WebSocketConnection, msg *WebSocketMessage) {
	var update ViewerUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		conn.sendError(msg.ID, "Invalid viewer_update payload", "InvalidViewerUpdate")
		return
	}
	if update.X == nil || update.Y == nil || update.Z == nil {
		conn.sendError(msg.ID, "viewer_update requires x, y and z", "InvalidViewerUpdate")
		return
	}

	pos := mgl32.Vec3{*update.X, *update.Y, *update.Z}
	if err := gridmap.ValidatePosition(pos); err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidViewerUpdate")
		return
	}
	h.hub.setViewer(conn.id, pos)
}
