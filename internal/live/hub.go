// Package live pushes page updates to connected browsers over websockets.
package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types sent to and received from the browser.
const (
	TypeRegions = "regions"
	TypeNotice  = "notice"
	TypePreview = "preview"
	TypeReady   = "ready"
)

const (
	sendBuffer   = 64
	maxPending   = 16
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 50 * time.Second
)

// Message is one frame on the socket.
type Message struct {
	Type    string            `json:"type"`
	Regions map[string]string `json:"regions,omitempty"`
	Text    string            `json:"text,omitempty"`
	URL     string            `json:"url,omitempty"`
}

type client struct {
	id    string
	send  chan Message
	ready bool
}

// Hub fans messages out to every connected page. Preview requests are held
// until some client reports that its preview viewer is ready. The latest
// markup of every region sent so far is replayed to clients when they
// connect, so a page that lost its socket catches up on reconnect.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	pending []string
	regions map[string]string
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(log *slog.Logger, checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		clients:  make(map[string]*client),
		regions:  make(map[string]string),
	}
}

// ServeHTTP upgrades the connection and serves it until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := h.register(uuid.NewString())
	log := h.log.With("client", c.id)
	log.Debug("websocket connected")

	done := make(chan struct{})
	go h.writeLoop(conn, c, done)

	defer func() {
		h.unregister(c.id)
		close(done)
		conn.Close()
		log.Debug("websocket disconnected")
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read", "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug("ignoring malformed message", "error", err)
			continue
		}
		if msg.Type == TypeReady {
			h.MarkReady(c.id)
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	// Closing here also ends the read loop when the client was dropped.
	defer conn.Close()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Warn("websocket write", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) register(id string) *client {
	c := &client{id: id, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = c
	if len(h.regions) > 0 {
		c.send <- Message{Type: TypeRegions, Regions: h.snapshot()}
	}
	return c
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		h.drop(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Regions sends replaced page regions, keyed by element id.
func (h *Hub) Regions(regions map[string]string) {
	if len(regions) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, markup := range regions {
		h.regions[id] = markup
	}
	msg := Message{Type: TypeRegions, Regions: regions}
	for _, c := range h.clients {
		h.deliver(c, msg)
	}
}

// Snapshot returns the latest markup of every region sent so far.
func (h *Hub) Snapshot() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

func (h *Hub) snapshot() map[string]string {
	out := make(map[string]string, len(h.regions))
	for id, markup := range h.regions {
		out[id] = markup
	}
	return out
}

// Notice shows a blocking notice in every page.
func (h *Hub) Notice(text string) {
	h.Broadcast(Message{Type: TypeNotice, Text: text})
}

// Broadcast sends msg to every client.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.deliver(c, msg)
	}
}

// Preview asks ready clients to show the document at url. With no ready
// client the request is queued and delivered when one becomes ready.
func (h *Hub) Preview(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := false
	for _, c := range h.clients {
		if c.ready {
			h.deliver(c, Message{Type: TypePreview, URL: url})
			sent = true
		}
	}
	if sent {
		return
	}
	h.pending = append(h.pending, url)
	if len(h.pending) > maxPending {
		h.pending = h.pending[len(h.pending)-maxPending:]
	}
	h.log.Debug("preview deferred until viewer is ready", "url", url, "pending", len(h.pending))
}

// MarkReady records that a client's preview viewer has loaded and flushes
// queued previews to it in order.
func (h *Hub) MarkReady(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.ready = true
	for _, url := range h.pending {
		h.deliver(c, Message{Type: TypePreview, URL: url})
	}
	h.pending = nil
}

// Pending returns the number of queued previews.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// deliver must be called with mu held. A client that cannot keep up is
// dropped and its connection closed by the write loop.
func (h *Hub) deliver(c *client, msg Message) {
	select {
	case c.send <- msg:
	default:
		h.log.Warn("dropping slow websocket client", "client", c.id)
		h.drop(c)
	}
}

// drop must be called with mu held.
func (h *Hub) drop(c *client) {
	delete(h.clients, c.id)
	close(c.send)
}
