// Package ws holds both WebSocket sides of the service: the telemetry
// dialer towards the simulation server and the hub that fans processed
// updates out to dashboard clients.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Vasu1712/silensess-backend/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Client is one dashboard connection subscribed to a channel.
type Client struct {
	ID        string
	ChannelID string
	Send      chan []byte
	Conn      *websocket.Conn
}

// BroadcastMessage is delivered to every client subscribed to ChannelID.
// An empty ChannelID reaches every client.
type BroadcastMessage struct {
	ChannelID string
	Data      []byte
}

// Hub tracks dashboard clients grouped by channel id.
type Hub struct {
	Clients    map[string]map[*Client]bool // channelID -> clients
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan BroadcastMessage

	// Snapshot, if set, produces the first message a new client receives.
	// It is called from Run while the client is registered.
	Snapshot func(channelID string) ([]byte, error)

	Upgrader websocket.Upgrader

	done    chan struct{}
	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan BroadcastMessage, 64),
		done:       make(chan struct{}),
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		logger:  logger.With("component", "hub"),
		metrics: m,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for channel, clients := range h.Clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.Clients, channel)
			}
			h.mu.Unlock()
			h.setGauge()
			return
		case client := <-h.Register:
			h.mu.Lock()
			if h.Clients[client.ChannelID] == nil {
				h.Clients[client.ChannelID] = make(map[*Client]bool)
			}
			h.Clients[client.ChannelID][client] = true
			h.mu.Unlock()
			// Built inside the loop so no broadcast can fall between the
			// snapshot and the client's first live update.
			h.sendSnapshot(client)
			h.logger.Debug("dashboard client registered", "client", client.ID, "channel", client.ChannelID)
			h.setGauge()
		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.setGauge()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for channel, clients := range h.Clients {
				if msg.ChannelID != "" && channel != "" && channel != msg.ChannelID {
					continue
				}
				for client := range clients {
					select {
					case client.Send <- msg.Data:
					default:
						h.logger.Warn("dropping slow dashboard client", "client", client.ID)
						h.removeLocked(client)
					}
				}
			}
			h.mu.Unlock()
			h.setGauge()
		}
	}
}

func (h *Hub) sendSnapshot(client *Client) {
	if h.Snapshot == nil {
		return
	}
	snap, err := h.Snapshot(client.ChannelID)
	if err != nil {
		h.logger.Error("building dashboard snapshot", "client", client.ID, "err", err)
		return
	}
	select {
	case client.Send <- snap:
	default:
		h.logger.Warn("snapshot dropped, client buffer full", "client", client.ID)
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.Clients[client.ChannelID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.Clients, client.ChannelID)
		}
	}
}

// Publish queues data for the clients of channelID without blocking. It
// reports false when the broadcast queue is full.
func (h *Hub) Publish(channelID string, data []byte) bool {
	select {
	case h.Broadcast <- BroadcastMessage{ChannelID: channelID, Data: data}:
		return true
	default:
		h.logger.Warn("broadcast queue full, update dropped", "channel", channelID)
		return false
	}
}

// ActiveClients returns the number of registered clients.
func (h *Hub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.Clients {
		n += len(clients)
	}
	return n
}

func (h *Hub) setGauge() {
	if h.metrics != nil {
		h.metrics.HubClients.Set(float64(h.ActiveClients()))
	}
}

// ServeWS upgrades the request and subscribes the connection to channelID
// (empty for every channel). Run sends the snapshot on registration.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channelID string) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard upgrade failed", "err", err)
		return
	}
	client := &Client{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Send:      make(chan []byte, sendBufferSize),
		Conn:      conn,
	}
	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readPump(client)
	go h.writePump(client)
}

// readPump discards client input and keeps the connection alive.
func (h *Hub) readPump(client *Client) {
	defer func() {
		select {
		case h.Unregister <- client:
		case <-h.done:
		}
		client.Conn.Close()
	}()
	client.Conn.SetReadLimit(4096)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
