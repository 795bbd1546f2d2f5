package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is one frame sent to job-log viewers
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client is one connected log viewer, subscribed to a single job
type Client struct {
	ID    string
	User  string
	Conn  *websocket.Conn
	JobID string
	Send  chan *Message
	Hub   *Hub
	mu    sync.Mutex
}

// Hub fans job progress out to all viewers of each job
type Hub struct {
	// Viewers grouped by job id
	jobs map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	broadcast  chan *broadcastMessage

	clients map[string]*Client

	mu sync.RWMutex
}

type broadcastMessage struct {
	jobID   string
	message *Message
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		jobs:       make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToJob(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	if h.jobs[client.JobID] == nil {
		h.jobs[client.JobID] = make(map[*Client]bool)
	}
	h.jobs[client.JobID][client] = true

	log.Printf("[WebSocket] Client %s (user=%s) watching job %s. Viewers: %d",
		client.ID, client.User, client.JobID, len(h.jobs[client.JobID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, client.ID)

	if clients, ok := h.jobs[client.JobID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)

			if len(clients) == 0 {
				delete(h.jobs, client.JobID)
			}
		}
	}
}

func (h *Hub) broadcastToJob(bm *broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.jobs[bm.jobID] {
		select {
		case client.Send <- bm.message:
		default:
			// Slow viewer; drop the frame instead of disconnecting
			log.Printf("[WebSocket] Client %s send channel full, dropping message", client.ID)
		}
	}
}

// ViewerCount returns the number of clients watching a job
func (h *Hub) ViewerCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs[jobID])
}

// BroadcastLogLine sends one job-log line to every viewer of the job
func (h *Hub) BroadcastLogLine(jobID, line string) {
	h.broadcast <- &broadcastMessage{
		jobID: jobID,
		message: &Message{
			Type:      "log_line",
			Payload:   map[string]interface{}{"line": line},
			Timestamp: time.Now(),
		},
	}
}

// BroadcastJobStatus sends a job lifecycle update to every viewer
func (h *Hub) BroadcastJobStatus(jobID string, status interface{}) {
	h.broadcast <- &broadcastMessage{
		jobID: jobID,
		message: &Message{
			Type:      "job_status",
			Payload:   status,
			Timestamp: time.Now(),
		},
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.Send)
		client.Conn.Close()
	}

	h.jobs = make(map[string]map[*Client]bool)
	h.clients = make(map[string]*Client)
}

// ReadPump drains the connection until the viewer disconnects. Viewers
// do not send meaningful frames; reads exist to notice closure and to
// answer pings.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			break
		}
	}
}

// WritePump pumps messages from the hub to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WebSocket] Failed to marshal message: %v", err)
				continue
			}
			w.Write(data)

			// Flush queued frames into the same write
			n := len(c.Send)
			for i := 0; i < n; i++ {
				msg := <-c.Send
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				w.Write([]byte("\n"))
				w.Write(data)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(msgType string, payload interface{}) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client send channel is closed")
		}
	}()

	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case c.Send <- msg:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}
