package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Collaborators connect from other hosts; token checks happen at
		// the API layer, not here.
		return true
	},
}

// progressConn wraps one client connection with a write mutex.
// gorilla/websocket allows at most one concurrent writer per connection, and
// broadcasts race the per-client reader goroutine without it.
type progressConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (pc *progressConn) write(payload []byte) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	return pc.conn.WriteMessage(websocket.TextMessage, payload)
}

// WebSocketManager streams session progress messages to connected
// collaborator clients.
type WebSocketManager struct {
	connections []*progressConn
	mutex       sync.Mutex
	backlog     [][]byte
	backlogMu   sync.Mutex
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		connections: make([]*progressConn, 0),
		backlog:     make([][]byte, 0, 100),
	}
}

// AddConnection registers a WebSocket connection and returns its wrapper.
func (wsm *WebSocketManager) AddConnection(conn *websocket.Conn) *progressConn {
	pc := &progressConn{conn: conn}
	wsm.mutex.Lock()
	defer wsm.mutex.Unlock()
	wsm.connections = append(wsm.connections, pc)
	log.Printf("Progress client connected. Total clients: %d", len(wsm.connections))
	return pc
}

// RemoveConnection removes a WebSocket connection
func (wsm *WebSocketManager) RemoveConnection(pc *progressConn) {
	wsm.mutex.Lock()
	defer wsm.mutex.Unlock()

	for i, c := range wsm.connections {
		if c == pc {
			wsm.connections = append(wsm.connections[:i], wsm.connections[i+1:]...)
			log.Printf("Progress client disconnected. Total clients: %d", len(wsm.connections))
			break
		}
	}
}

// BroadcastMessage sends a typed message to all connected clients and keeps
// it in the backlog for clients that connect later.
func (wsm *WebSocketManager) BroadcastMessage(msgType string, data map[string]interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      msgType,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", msgType, err)
		return
	}

	wsm.buffer(payload)

	// Snapshot so slow client writes never hold the manager lock.
	wsm.mutex.Lock()
	clients := make([]*progressConn, len(wsm.connections))
	copy(clients, wsm.connections)
	wsm.mutex.Unlock()

	for _, pc := range clients {
		if err := pc.write(payload); err != nil {
			log.Printf("Failed to send message to progress client: %v", err)
			wsm.RemoveConnection(pc)
		}
	}
}

// flushBacklog sends buffered messages to a newly connected client.
func (wsm *WebSocketManager) flushBacklog(pc *progressConn) {
	wsm.backlogMu.Lock()
	pending := make([][]byte, len(wsm.backlog))
	copy(pending, wsm.backlog)
	wsm.backlogMu.Unlock()

	for _, msg := range pending {
		if err := pc.write(msg); err != nil {
			log.Printf("Failed to flush backlog: %v", err)
			return
		}
	}
	log.Printf("Flushed %d buffered messages to new client", len(pending))
}

func (wsm *WebSocketManager) buffer(payload []byte) {
	wsm.backlogMu.Lock()
	defer wsm.backlogMu.Unlock()

	wsm.backlog = append(wsm.backlog, payload)
	// Keep only the last 100 messages
	if len(wsm.backlog) > 100 {
		wsm.backlog = wsm.backlog[len(wsm.backlog)-100:]
	}
}

// HandleConnection upgrades and services one progress-stream client.
func (wsm *WebSocketManager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	log.Printf("🔗 WebSocket connection attempt from %s", r.RemoteAddr)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %s\n", err.Error())
		return
	}
	defer conn.Close()

	pc := wsm.AddConnection(conn)
	defer wsm.RemoveConnection(pc)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %s\n", err.Error())
			}
			return
		}

		var data map[string]interface{}
		if err := json.Unmarshal(message, &data); err != nil {
			log.Printf("Failed to parse message: %s\n", err.Error())
			continue
		}

		msgType, ok := data["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "client_ready":
			wsm.flushBacklog(pc)
		case "ping":
			pongJSON, _ := json.Marshal(map[string]string{"type": "pong"})
			if err := pc.write(pongJSON); err != nil {
				log.Printf("Failed to send pong: %v", err)
			}
		}
	}
}
