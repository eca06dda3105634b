package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Manager fans event notifications out to every connected websocket client.
// Clients only listen; the socket carries no client commands besides ping
// and channel subscription acks.
type Manager struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
}

type Client struct {
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	manager *Manager
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (m *Manager) Start() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			m.mu.Unlock()
			log.Printf("✅ WebSocket client registered. Total clients: %d", m.GetConnectedUsers())

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
			}
			m.mu.Unlock()
			log.Printf("❌ WebSocket client unregistered. Total clients: %d", m.GetConnectedUsers())

		case message := <-m.broadcast:
			m.mu.Lock()
			for client := range m.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(m.clients, client)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) broadcastEvent(eventType string, payload map[string]interface{}) {
	data := map[string]interface{}{
		"type":    eventType,
		"payload": payload,
	}

	msg, err := json.Marshal(data)
	if err != nil {
		log.Printf("❌ Error marshaling WebSocket message: %v", err)
		return
	}

	log.Printf("📢 Broadcasting %s to %d clients", eventType, m.GetConnectedUsers())
	m.broadcast <- msg
}

// BroadcastPostCreated tells connected clients a new post exists.
func (m *Manager) BroadcastPostCreated(payload map[string]interface{}) {
	m.broadcastEvent("post.created", payload)
}

// BroadcastPostDeleted tells connected clients to drop a post from view.
func (m *Manager) BroadcastPostDeleted(payload map[string]interface{}) {
	m.broadcastEvent("post.deleted", payload)
}

func (m *Manager) GetConnectedUsers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketHandler upgrades an authenticated request. It sits behind the JWT
// middleware, which accepts ?token= for browser websocket clients.
func WebSocketHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userId")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		client := &Client{
			conn:    conn,
			userID:  userID,
			send:    make(chan []byte, 256),
			manager: manager,
		}

		manager.register <- client

		welcomeMsg := map[string]interface{}{
			"type": "connected",
			"payload": map[string]interface{}{
				"userId":  userID,
				"message": "WebSocket connected successfully",
				"time":    time.Now().Unix(),
			},
		}
		msg, _ := json.Marshal(welcomeMsg)
		client.send <- msg

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket read error: %v", err)
			}
			break
		}

		var data map[string]interface{}
		if err := json.Unmarshal(message, &data); err != nil {
			log.Printf("❌ WebSocket message unmarshal error: %v", err)
			continue
		}

		switch data["type"] {
		case "subscribe":
			c.handleSubscribe(data)
		case "ping":
			c.sendPong()
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleSubscribe(data map[string]interface{}) {
	channel, ok := data["channel"].(string)
	if !ok {
		return
	}

	response := map[string]interface{}{
		"type": "subscribed",
		"payload": map[string]interface{}{
			"channel": channel,
			"userId":  c.userID,
			"time":    time.Now().Unix(),
		},
	}

	msg, err := json.Marshal(response)
	if err != nil {
		log.Printf("❌ Error marshaling subscription response: %v", err)
		return
	}

	c.send <- msg
}

func (c *Client) sendPong() {
	response := map[string]interface{}{
		"type": "pong",
		"payload": map[string]interface{}{
			"time": time.Now().Unix(),
		},
	}

	msg, err := json.Marshal(response)
	if err != nil {
		log.Printf("❌ Error marshaling pong: %v", err)
		return
	}

	c.send <- msg
}
