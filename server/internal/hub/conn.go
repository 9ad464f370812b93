package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

const (
	writeWait = 10 * time.Second

	// pingPeriod and pongTimeout are the §4.B heartbeat contract: a ping is
	// sent every 30s, and a connection that hasn't ponged within 10s of a
	// ping is considered dead. pongWait — the read deadline renewed by every
	// pong — spans both so a pong arriving right at the timeout boundary
	// still lands before the deadline trips.
	pingPeriod  = 30 * time.Second
	pongTimeout = 10 * time.Second
	pongWait    = pingPeriod + pongTimeout

	// maxMessageSize bounds a single inbound frame. Frames carrying large
	// terminal output are chunked by the wrapper at 10000 bytes (§4.C), so
	// this ceiling leaves generous room for JSON envelope overhead.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the per-connection outbound buffer high-watermark.
	// Exceeding it triggers the slow-consumer close per §4.B.
	sendBufferSize = 256
)

// Conn is a single live transport-level connection, owned exclusively by
// the Hub. gorilla/websocket connections are not safe for concurrent
// writes, so only writePump ever calls conn.Write*.
type Conn struct {
	ID      string
	Kind    types.ConnectionKind
	AgentID string // bound agent id, agent-kind connections only
	// Principal identifies the authenticated caller: a user id for
	// dashboards, an agent id for agent-kind connections.
	Principal string

	hub    *Hub
	socket *websocket.Conn
	logger *zap.Logger

	send chan *protocol.Frame

	mu              sync.Mutex
	subscribedAgents map[string]bool
	seq             int64
	lastPong        time.Time
	closed          bool
}

// NewConn wraps an already-upgraded socket. kind, agentID and principal come
// from the caller after authentication; id is a freshly generated
// connection id.
func NewConn(h *Hub, socket *websocket.Conn, id string, kind types.ConnectionKind, agentID, principal string, logger *zap.Logger) *Conn {
	return &Conn{
		ID:               id,
		Kind:             kind,
		AgentID:          agentID,
		Principal:        principal,
		hub:              h,
		socket:           socket,
		logger:           logger,
		send:             make(chan *protocol.Frame, sendBufferSize),
		subscribedAgents: make(map[string]bool),
		lastPong:         time.Now(),
	}
}

// Run registers the connection and blocks running readPump on the current
// goroutine after starting writePump on a new one. Returns when the
// connection is torn down.
func (c *Conn) Run() {
	c.hub.Accept(c)
	go c.writePump()
	c.readPump()
}

// Preload seeds frame onto the connection's outbound buffer before Run
// starts the pumps, so it is the first frame written once the connection
// goes live — used by the HTTP layer to deliver connection:ack with the
// connection id NewConn already assigned, ahead of anything the hub itself
// might send.
func (c *Conn) Preload(frame *protocol.Frame) {
	c.send <- frame
}

// Subscribe adds agentIDs to this dashboard connection's subscription set.
func (c *Conn) Subscribe(agentIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range agentIDs {
		c.subscribedAgents[id] = true
	}
}

// IsSubscribed reports whether this dashboard connection is subscribed to
// agentID. A dashboard with no explicit subscriptions is not subscribed to
// anything — callers must call Subscribe first.
func (c *Conn) IsSubscribed(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedAgents[agentID]
}

// enqueue attempts a non-blocking send onto c.send. If the buffer is full
// the connection is closed for slow-consumer and false is returned.
func (c *Conn) enqueue(frame *protocol.Frame) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("slow consumer, closing", zap.String("connId", c.ID))
		c.Close(types.CloseSlowConsumer, "slow-consumer")
		return false
	}
}

// Close idempotently tears down the connection with the given close code
// and reason.
func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.socket.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.socket.Close()
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
	}()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(raw)
		if err != nil {
			c.sendProtocolError(err.Error())
			continue
		}
		if err := protocol.Validate(frame); err != nil {
			c.sendProtocolError(err.Error())
			continue
		}
		switch frame.Type {
		case protocol.TypePing:
			c.replyPong(frame)
		case protocol.TypePong:
			// Application-level pong, distinct from the transport-level
			// control frame handled by SetPongHandler above; treated the
			// same way.
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
		default:
			c.hub.handler.HandleFrame(c, frame)
		}
	}
}

func (c *Conn) sendProtocolError(reason string) {
	frame, err := protocol.NewFrame(protocol.TypeError, uuid.NewString(), time.Now(), protocol.ErrorPayload{
		Code:        "PROTOCOL",
		Message:     reason,
		Recoverable: true,
	})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *Conn) replyPong(ping *protocol.Frame) {
	frame, err := protocol.NewFrame(protocol.TypePong, uuid.NewString(), time.Now(), json.RawMessage(`{}`))
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			raw, err := protocol.Encode(frame)
			if err != nil {
				c.logger.Error("encode frame", zap.Error(err))
				continue
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
			c.mu.Lock()
			c.seq++
			c.mu.Unlock()
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.mu.Lock()
			stale := time.Since(c.lastPong) > pongWait
			c.mu.Unlock()
			if stale {
				c.Close(types.CloseHeartbeatTimeout, "heartbeat-timeout")
				return
			}
		}
	}
}
