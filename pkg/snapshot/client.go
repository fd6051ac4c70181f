package snapshot

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one WebSocket connection to the shared /ws/buffers endpoint,
// able to multiplex subscriptions to many sessions.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger

	outCh chan []byte

	mu   sync.Mutex
	subs map[string]bool
}

type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ServeWS upgrades r into a Client and runs it until the connection
// closes. It blocks; call it from the HTTP handler goroutine.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		conn:   conn,
		hub:    hub,
		logger: logger,
		outCh:  make(chan []byte, sendBufferSize),
		subs:   make(map[string]bool),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writeLoop() }()
	go func() { defer wg.Done(); c.readLoop() }()
	wg.Wait()

	hub.RemoveClient(c)
	return nil
}

// send enqueues a binary frame, dropping it if the client's outbound
// buffer is full rather than blocking the hub. A silently-disconnecting
// slow client is acceptable here: the text-stream plane is the one with
// a hard backpressure contract, not this one.
func (c *Client) send(frame []byte) {
	select {
	case c.outCh <- frame:
	default:
	}
}

func (c *Client) readLoop() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return // malformed frame: never fail the connection over one bad message
	}
	switch msg.Type {
	case "subscribe":
		if msg.SessionID == "" {
			return
		}
		c.mu.Lock()
		c.subs[msg.SessionID] = true
		c.mu.Unlock()
		c.hub.Subscribe(c, msg.SessionID)
	case "unsubscribe":
		if msg.SessionID == "" {
			return
		}
		c.mu.Lock()
		delete(c.subs, msg.SessionID)
		c.mu.Unlock()
		c.hub.Unsubscribe(c, msg.SessionID)
	case "ping":
		c.sendText(`{"type":"pong"}`)
	}
}

func (c *Client) sendText(s string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.outCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
