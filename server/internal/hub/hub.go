// Package hub implements the connection manager (component B): it owns
// every live WebSocket transport — agent wrappers and dashboards alike —
// authenticates and tracks them, and broadcasts outbound frames with
// per-connection back-pressure.
//
// The design generalizes the teacher's push-only pub/sub hub
// (server/internal/websocket) into full bidirectional dispatch: inbound
// frames are routed to an injected Handler instead of being discarded, and
// agent-kind connections additionally enforce the one-live-connection-
// per-agent invariant.
package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/metrics"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

// Handler receives inbound frames routed by the hub and observes connection
// lifecycle events. The command router (component D) implements it; the hub
// dispatches to exactly one Handler.
type Handler interface {
	HandleFrame(conn *Conn, frame *protocol.Frame)
	HandleConnect(conn *Conn)
	HandleDisconnect(conn *Conn)
}

// Hub owns the connection registry. All registry mutation happens on the
// single goroutine running Run, under mu so that Send, AgentConn and the
// Broadcast* methods can read the registry concurrently; Broadcast* take a
// read-only snapshot copy while holding mu,
// then send outside the lock, mirroring the teacher's hub.Publish pattern.
type Hub struct {
	logger  *zap.Logger
	handler Handler

	mu          sync.RWMutex
	conns       map[string]*Conn            // connID -> conn
	agentConns  map[string]*Conn            // agentID -> the single live agent conn
	dashboards  map[string]*Conn            // connID -> dashboard conn (subset of conns)

	register   chan *Conn
	unregister chan *Conn
	stopped    chan struct{}
}

// New constructs a Hub. handler is invoked for every inbound frame and
// connection lifecycle transition; it is typically the command router. handler
// may be nil at construction — the router itself takes the hub as its Sender,
// so main.go builds the hub first and wires the router in afterwards with
// SetHandler, rather than trying to construct both at once.
func New(logger *zap.Logger, handler Handler) *Hub {
	return &Hub{
		logger:     logger,
		handler:    handler,
		conns:      make(map[string]*Conn),
		agentConns: make(map[string]*Conn),
		dashboards: make(map[string]*Conn),
		register:   make(chan *Conn, 16),
		unregister: make(chan *Conn, 16),
		stopped:    make(chan struct{}),
	}
}

// SetHandler assigns the frame handler after construction, for callers that
// must build the hub before the handler exists (the handler itself usually
// depends on the hub as its Sender). Not safe to call once Run has started
// processing registrations concurrently with handler use elsewhere.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// Run is the hub's single event loop. It must run on its own goroutine for
// the lifetime of the server; closing done closes every connection before
// returning.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.closeAll()
			close(h.stopped)
			return
		case c := <-h.register:
			h.doRegister(c)
		case c := <-h.unregister:
			h.doUnregister(c)
		}
	}
}

// Wait blocks until Run has finished tearing down all connections.
func (h *Hub) Wait() {
	<-h.stopped
}

func (h *Hub) doRegister(c *Conn) {
	h.mu.Lock()
	var superseded *Conn
	if c.Kind == types.ConnectionKindAgent {
		if prior, ok := h.agentConns[c.AgentID]; ok && prior != c {
			superseded = prior
		}
		h.agentConns[c.AgentID] = c
	} else {
		h.dashboards[c.ID] = c
	}
	h.conns[c.ID] = c
	metrics.ConnectedAgents.Set(float64(len(h.agentConns)))
	metrics.ConnectedDashboards.Set(float64(len(h.dashboards)))
	h.mu.Unlock()

	if superseded != nil {
		h.logger.Warn("agent connection superseded", zap.String("agentId", c.AgentID))
		superseded.Close(types.CloseSuperseded, "superseded by new connection")
	}
	if h.handler != nil {
		h.handler.HandleConnect(c)
	}
}

func (h *Hub) doUnregister(c *Conn) {
	h.mu.Lock()
	_, existed := h.conns[c.ID]
	delete(h.conns, c.ID)
	if c.Kind == types.ConnectionKindAgent {
		if cur, ok := h.agentConns[c.AgentID]; ok && cur == c {
			delete(h.agentConns, c.AgentID)
		}
	} else {
		delete(h.dashboards, c.ID)
	}
	metrics.ConnectedAgents.Set(float64(len(h.agentConns)))
	metrics.ConnectedDashboards.Set(float64(len(h.dashboards)))
	h.mu.Unlock()

	if existed && h.handler != nil {
		h.handler.HandleDisconnect(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close(types.CloseNormal, "server shutting down")
	}
}

// Register enqueues a new connection for registration. Called once by Conn
// after a successful upgrade+auth.
func (h *Hub) Register(c *Conn) { h.register <- c }

// Unregister enqueues a connection for teardown. Called by Conn when its
// pumps exit.
func (h *Hub) Unregister(c *Conn) { h.unregister <- c }

// Accept is the public contract entry point: it registers c and returns
// once registration is queued. Called by Conn.Run itself; callers that need
// to deliver a frame ahead of anything else — connection:ack, notably —
// use Conn.Preload before calling Run rather than racing Accept with Send.
func (h *Hub) Accept(c *Conn) {
	h.Register(c)
}

// Send enqueues frame onto conn's outbound buffer. Returns false ("gone")
// if the connection is no longer registered or its buffer is saturated.
func (h *Hub) Send(connID string, frame *protocol.Frame) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.enqueue(frame)
}

// Close idempotently closes the named connection.
func (h *Hub) Close(connID string, code int, reason string) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.Close(code, reason)
}

// AgentConn returns the single live agent-kind connection for agentID, if
// any.
func (h *Hub) AgentConn(agentID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.agentConns[agentID]
	return c, ok
}

// IsAgentConnected reports whether agentID currently has a live connection.
func (h *Hub) IsAgentConnected(agentID string) bool {
	_, ok := h.AgentConn(agentID)
	return ok
}

// BroadcastToAgents sends frame to every live agent connection matching
// predicate. Per-connection send failures are not propagated to the
// caller — a failing connection is closed and cleaned up independently.
func (h *Hub) BroadcastToAgents(predicate func(agentID string) bool, frame *protocol.Frame) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.agentConns))
	for agentID, c := range h.agentConns {
		if predicate == nil || predicate(agentID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// BroadcastToDashboards sends frame to every live dashboard connection
// matching predicate, excluding the connection id in exclude (if non-empty).
func (h *Hub) BroadcastToDashboards(predicate func(c *Conn) bool, frame *protocol.Frame, exclude string) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.dashboards))
	for id, c := range h.dashboards {
		if id == exclude {
			continue
		}
		if predicate == nil || predicate(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// ConnectedAgentCount returns the number of live agent connections.
func (h *Hub) ConnectedAgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agentConns)
}

// ConnectedDashboardCount returns the number of live dashboard connections.
func (h *Hub) ConnectedDashboardCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dashboards)
}
