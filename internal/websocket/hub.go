// Package websocket fans job updates out to the sockets watching each job.
package websocket

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/journi/jobwatch/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer. Clients ping
	// every ten seconds.
	readWait = 60 * time.Second

	// How often the server pings an idle client.
	pingPeriod = 25 * time.Second

	maxMessageSize = 4096
)

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The devserver is reached from local tooling only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is a frame for every client watching JobID.
type Message struct {
	JobID string
	Data  []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	jobID string
	send  chan []byte
	// pongs carries heartbeat replies for writePump.
	pongs chan []byte
	// initial, when set, produces the first frame at registration.
	initial func() []byte
}

// Hub maintains the set of active clients per job and broadcasts
// messages to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.jobID] == nil {
				h.clients[client.jobID] = make(map[*Client]bool)
			}
			h.clients[client.jobID][client] = true
			h.mu.Unlock()
			// Taken after registration so no later update can be missed.
			if client.initial != nil {
				if data := client.initial(); data != nil {
					client.send <- data
				}
			}
		case client := <-h.unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients[message.JobID] {
				select {
				case client.send <- message.Data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.remove(client)
			}
		case <-h.stop:
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					close(client.send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[client.jobID]
	if _, ok := set[client]; ok {
		delete(set, client)
		close(client.send)
		if len(set) == 0 {
			delete(h.clients, client.jobID)
		}
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Publish queues data for every client watching jobID.
func (h *Hub) Publish(jobID string, data []byte) {
	select {
	case h.broadcast <- Message{JobID: jobID, Data: data}:
	case <-h.stop:
	}
}

// ClientCount returns how many sockets watch jobID.
func (h *Hub) ClientCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// ServeWs upgrades the request to a socket watching jobID. initial, when
// not nil, supplies the first frame sent to the client.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, jobID string, initial func() []byte, logger logging.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	client := &Client{
		hub:     hub,
		conn:    conn,
		jobID:   jobID,
		send:    make(chan []byte, 256),
		pongs:   make(chan []byte, 1),
		initial: initial,
	}
	select {
	case hub.register <- client:
	case <-hub.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(logger)
}

// readPump answers client heartbeats. Any other inbound frame is ignored.
func (c *Client) readPump(logger logging.Logger) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket closed", "job_id", c.jobID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		if reply := pongFor(message); reply != nil {
			select {
			case c.pongs <- reply:
			default:
			}
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server-shutdown"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case reply := <-c.pongs:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				return
			}
		}
	}
}

// pongFor returns the reply to a heartbeat, or nil. Plain text pings get
// a plain text pong for older clients.
func pongFor(message []byte) []byte {
	trimmed := bytes.TrimSpace(message)
	if string(trimmed) == "ping" {
		return []byte("pong")
	}
	var frame struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(trimmed, &frame) == nil && frame.Type == "ping" {
		return pongFrame
	}
	return nil
}
