package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codebreaker-server/internal/mastermind"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const (
	outboxSize   = 32
	writeTimeout = 5 * time.Second
)

// clientConn is the part of *websocket.Conn a Client writes through.
type clientConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Client is one live connection. Outbound frames are queued on send and
// written by writePump so a slow socket never blocks another connection's
// handler.
type Client struct {
	ID   mastermind.ConnectionID
	conn clientConn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id mastermind.ConnectionID, conn clientConn) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, outboxSize),
		done: make(chan struct{}),
	}
}

// enqueue never blocks. It reports false when the outbox is full or the
// client is closed.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the outbox onto the socket. A failed write closes the
// client, which ends the read loop and runs disconnect teardown.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("conn", string(c.ID)).Msg("write failed")
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Close stops the writer. The socket itself is closed with the given status
// when one is attached.
func (c *Client) Close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close(status, reason)
		}
	})
}

type ConnectionManager struct {
	clients map[mastermind.ConnectionID]*Client
	mu      sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[mastermind.ConnectionID]*Client),
	}
}

func (cm *ConnectionManager) AddConnection(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[c.ID] = c
}

// RemoveConnection forgets the client and returns it, or nil if unknown.
func (cm *ConnectionManager) RemoveConnection(id mastermind.ConnectionID) *Client {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.clients[id]
	if !ok {
		return nil
	}
	delete(cm.clients, id)
	return c
}

func (cm *ConnectionManager) GetConnection(id mastermind.ConnectionID) *Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clients[id]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// Send queues msg for one connection. Delivery is fire-and-forget.
func (cm *ConnectionManager) Send(id mastermind.ConnectionID, msg ServerMessage) bool {
	c := cm.GetConnection(id)
	if c == nil {
		log.Debug().Str("conn", string(id)).Str("type", msg.Type).Msg("send to unknown connection")
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("marshal failed")
		return false
	}

	if !c.enqueue(data) {
		log.Warn().Str("conn", string(id)).Str("type", msg.Type).Msg("outbox full, message dropped")
		return false
	}
	return true
}

// Broadcast queues msg for every connection and returns how many accepted it.
func (cm *ConnectionManager) Broadcast(msg ServerMessage) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("marshal failed")
		return 0
	}

	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.enqueue(data) {
			delivered++
		} else {
			log.Warn().Str("conn", string(c.ID)).Str("type", msg.Type).Msg("outbox full, broadcast dropped")
		}
	}
	return delivered
}

// CloseAll writes final (when non-nil) straight to every socket and closes
// it. Disconnect handling runs from each connection's read loop as the
// sockets go away.
func (cm *ConnectionManager) CloseAll(ctx context.Context, final []byte, status websocket.StatusCode, reason string) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		if final != nil && c.conn != nil {
			if err := c.conn.Write(ctx, websocket.MessageText, final); err != nil {
				log.Debug().Err(err).Str("conn", string(c.ID)).Msg("final write failed")
			}
		}
		c.Close(status, reason)
	}
}
