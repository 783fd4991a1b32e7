package orchestrator

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// statusUpdate is one message on the live status feed
type statusUpdate struct {
	Type    string      `json:"type"`
	Region  string      `json:"region,omitempty"`
	Backend string      `json:"backend,omitempty"`
	Model   string      `json:"model,omitempty"`
	Status  string      `json:"status,omitempty"`
	Carbon  float64     `json:"carbon,omitempty"`
	Source  string      `json:"source,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// statusHub fans status updates out to WebSocket subscribers. Slow
// subscribers drop messages rather than stalling the broadcaster.
type statusHub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*statusClient
}

type statusClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newStatusHub() *statusHub {
	return &statusHub{
		clients: make(map[uuid.UUID]*statusClient),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Broadcast sends an update to every connected subscriber
func (h *statusHub) Broadcast(update statusUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

func (h *statusHub) add(client *statusClient) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
}

func (h *statusHub) remove(id uuid.UUID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// handleStatusWS upgrades the connection and registers it with the hub
func (s *Service) handleStatusWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &statusClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}

	s.hub.add(client)

	go s.wsReadPump(client)
	go s.wsWritePump(client)
}

func (s *Service) wsReadPump(client *statusClient) {
	defer func() {
		s.hub.remove(client.id)
		close(client.done)
		client.conn.Close()
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Service) wsWritePump(client *statusClient) {
	for {
		select {
		case message := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}
