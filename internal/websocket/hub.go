package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"github.com/stationquest/render-api/internal/model"
)

// Client represents a WebSocket client subscribed to one render job.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections grouped by job id and fans out
// progress events to them.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	log zerolog.Logger
	mu  sync.RWMutex
}

type broadcastMessage struct {
	JobID   string
	Message []byte
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("job", client.JobID).Msg("ws client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) send(jobID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("ws payload marshal failed")
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{JobID: jobID, Message: data}:
	default:
		// Broadcast queue full; progress events are lossy by design.
	}
}

// BroadcastProgress notifies subscribers of a progress change.
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.Status) {
	h.send(jobID, map[string]interface{}{
		"type":     "progress",
		"jobId":    jobID,
		"status":   status,
		"progress": progress,
	})
}

// BroadcastComplete notifies subscribers that the render finished.
func (h *Hub) BroadcastComplete(jobID string, outputPath string) {
	h.send(jobID, map[string]interface{}{
		"type":       "complete",
		"jobId":      jobID,
		"status":     model.StatusCompleted,
		"progress":   100,
		"outputPath": outputPath,
	})
}

// BroadcastError notifies subscribers of a terminal failure.
func (h *Hub) BroadcastError(jobID string, message string) {
	h.send(jobID, map[string]interface{}{
		"type":   "error",
		"jobId":  jobID,
		"status": model.StatusFailed,
		"error":  message,
	})
}

// HandleConnection serves one subscriber until the socket closes.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 16),
	}

	h.register <- client
	defer func() {
		h.unregister <- client
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			c.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
