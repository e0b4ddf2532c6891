package broadcaster

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lykmapipo/osm-analytics/internal/stats"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

var wsClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "osm_analytics_ws_clients",
	Help: "Connected websocket clients",
})

// Message types
const (
	MessageSnapshot = "snapshot"
)

// Config holds broadcaster configuration
type Config struct {
	MaxClients      int  `json:"maxClients" yaml:"maxClients"`           // Maximum clients (default: 1000)
	BufferSize      int  `json:"bufferSize" yaml:"bufferSize"`           // Buffer size per client (default: 16)
	DropSlowClients bool `json:"dropSlowClients" yaml:"dropSlowClients"` // Drop clients whose buffer is full (default: true)
}

// DefaultConfig returns default broadcaster configuration
func DefaultConfig() Config {
	return Config{
		MaxClients:      1000,
		BufferSize:      16,
		DropSlowClients: true,
	}
}

// Message is the envelope of every websocket frame
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SnapshotSource provides the latest published snapshot
type SnapshotSource interface {
	Snapshot() *stats.Snapshot
}

// Client represents a WebSocket client
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster manages WebSocket clients and pushes every published snapshot
type Broadcaster struct {
	clients      map[*Client]bool
	register     chan *Client
	unregister   chan *Client
	notify       chan struct{}
	done         chan struct{}
	mu           sync.RWMutex
	upgrader     websocket.Upgrader
	config       Config
	source       SnapshotSource
	backpressure *utils.BackpressureMetrics
	logger       *utils.Logger
}

// NewBroadcaster creates a new broadcaster reading snapshots from source
func NewBroadcaster(config Config, source SnapshotSource) *Broadcaster {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &Broadcaster{
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		config:       config,
		source:       source,
		backpressure: &utils.BackpressureMetrics{},
		logger:       utils.BroadcasterLogger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow connections from any origin
			},
		},
	}
}

// Publish signals that a new snapshot is available. It never blocks; bursts
// collapse into one push of the latest snapshot.
func (b *Broadcaster) Publish(*stats.Snapshot) {
	utils.TrySend(b.notify, struct{}{}, nil)
}

// Start runs the broadcaster's main loop until ctx is done
func (b *Broadcaster) Start(ctx context.Context) {
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-b.register:
			b.handleClientRegistration(client)

		case client := <-b.unregister:
			b.handleClientUnregistration(client)

		case <-b.notify:
			b.broadcastSnapshot(b.source.Snapshot())
		}
	}
}

func (b *Broadcaster) shutdown() {
	close(b.done)

	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		delete(b.clients, client)
		close(client.send)
	}
	wsClients.Set(0)
	b.logger.Info("Broadcaster stopped")
}

// handleClientRegistration adds a client and sends it the current snapshot
func (b *Broadcaster) handleClientRegistration(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.config.MaxClients > 0 && len(b.clients) >= b.config.MaxClients {
		b.logger.Warn("Rejecting client %s: %d clients connected", client.id, len(b.clients))
		close(client.send)
		go client.writePump()
		return
	}

	b.clients[client] = true
	wsClients.Set(float64(len(b.clients)))
	go client.writePump()

	if snap := b.source.Snapshot(); snap != nil {
		if data, err := encode(snap); err == nil {
			utils.TrySend(client.send, data, b.backpressure)
		}
	}
	b.logger.Debug("Client %s registered (%d connected)", client.id, len(b.clients))
}

// handleClientUnregistration handles client disconnection
func (b *Broadcaster) handleClientUnregistration(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.send)
		wsClients.Set(float64(len(b.clients)))
		b.logger.Debug("Client %s unregistered (%d connected)", client.id, len(b.clients))
	}
}

// broadcastSnapshot sends a snapshot to every client, dropping the ones that
// cannot keep up when configured to
func (b *Broadcaster) broadcastSnapshot(snap *stats.Snapshot) {
	if snap == nil {
		return
	}
	data, err := encode(snap)
	if err != nil {
		b.logger.Error("Failed to encode snapshot %s: %v", snap.ID, err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		if utils.TrySend(client.send, data, b.backpressure) {
			continue
		}
		if b.config.DropSlowClients {
			delete(b.clients, client)
			close(client.send)
			b.logger.Warn("Dropped slow client %s", client.id)
		}
	}
	wsClients.Set(float64(len(b.clients)))

	if len(b.clients) > 0 {
		b.logger.Debug("Sent snapshot %s (generation %d) to %d clients", snap.ID, snap.Generation, len(b.clients))
	}
}

func encode(snap *stats.Snapshot) ([]byte, error) {
	return json.Marshal(Message{Type: MessageSnapshot, Data: snap})
}

// UpgradeConnection upgrades HTTP connection to WebSocket
func (b *Broadcaster) UpgradeConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		id:   utils.GenerateID("client"),
		conn: conn,
		send: make(chan []byte, b.config.BufferSize),
	}

	select {
	case b.register <- client:
	case <-b.done:
		conn.Close()
		return
	}

	// Start read pump for this client
	go client.readPump(b.unregister, b.done)
}

// GetClientCount returns the current number of connected clients
func (b *Broadcaster) GetClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// GetBackpressureStats returns how many client sends overflowed
func (b *Broadcaster) GetBackpressureStats() (overflows, dropped int64) {
	return b.backpressure.GetStats()
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
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

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump drains the connection so pongs and close frames are processed
func (c *Client) readPump(unregister chan<- *Client, done <-chan struct{}) {
	defer func() {
		select {
		case unregister <- c:
		case <-done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// GetID returns the client's ID
func (c *Client) GetID() string {
	return c.id
}
