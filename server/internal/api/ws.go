package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/agentdirectory"
	"github.com/onsembl/onsembl/server/internal/auth"
	"github.com/onsembl/onsembl/server/internal/hub"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

// ServerVersion is reported to every peer in connection:ack.
const ServerVersion = "1.0.0"

// upgrader is shared by both WebSocket endpoints. Origin validation is not
// meaningful here — agents and dashboards alike authenticate with a bearer
// token, not cookies, so there is no ambient-authority CSRF surface.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades and authenticates the two control-bus endpoints,
// `/ws/agent` and `/ws/dashboard`, then hands the live socket to the hub.
type WSHandler struct {
	hub       *hub.Hub
	jwtMgr    *auth.JWTManager
	directory *agentdirectory.Directory
	logger    *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(h *hub.Hub, jwtMgr *auth.JWTManager, directory *agentdirectory.Directory, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:       h,
		jwtMgr:    jwtMgr,
		directory: directory,
		logger:    logger.Named("ws_handler"),
	}
}

// bearerToken extracts the access token from either the Authorization
// header or, failing that, the `token` query parameter — browsers cannot
// set custom headers on a WebSocket handshake opened via the native
// WebSocket API, so the query parameter is the common case for dashboards.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// ServeDashboard handles GET /ws/dashboard. The bearer token authenticates
// an operator session; the first frame the client must send after upgrade
// is dashboard:connect, which this handler reads before registering the
// connection with the hub.
func (h *WSHandler) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		ErrUnauthorized(w)
		return
	}
	claims, err := h.jwtMgr.ValidateAccessToken(tokenStr)
	if err != nil {
		ErrUnauthorized(w)
		return
	}

	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard upgrade failed", zap.Error(err))
		return
	}

	var connect protocol.DashboardConnect
	if !h.readHandshake(socket, protocol.TypeDashboardConnect, &connect) {
		_ = socket.Close()
		return
	}

	connID := uuid.NewString()
	conn := hub.NewConn(h.hub, socket, connID, types.ConnectionKindDashboard, "", claims.UserID, h.logger)
	h.preloadAck(conn)
	conn.Run()
}

// ServeAgent handles GET /ws/agent. The bearer token authenticates the
// wrapper's API key as a short-lived access token (minted out of band by
// the CLI's `auth login`); the first frame must be agent:connect, which
// upserts the agent directory record before the connection is accepted.
func (h *WSHandler) ServeAgent(w http.ResponseWriter, r *http.Request) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		ErrUnauthorized(w)
		return
	}
	if _, err := h.jwtMgr.ValidateAccessToken(tokenStr); err != nil {
		ErrUnauthorized(w)
		return
	}

	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("agent upgrade failed", zap.Error(err))
		return
	}

	var connect protocol.AgentConnect
	if !h.readHandshake(socket, protocol.TypeAgentConnect, &connect) {
		_ = socket.Close()
		return
	}

	agentID, err := uuid.Parse(connect.AgentID)
	if err != nil {
		h.writeHandshakeError(socket, "PROTOCOL", "agentId must be a valid uuid")
		_ = socket.Close()
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	_, err = h.directory.Upsert(ctx, agentID, connect.AgentID, connect.AgentType, connect.Capabilities, connect.HostMachine, connect.Version, 0)
	cancel()
	if err != nil {
		h.logger.Error("agent directory upsert failed", zap.Error(err), zap.String("agentId", connect.AgentID))
		_ = socket.Close()
		return
	}

	connID := uuid.NewString()
	conn := hub.NewConn(h.hub, socket, connID, types.ConnectionKindAgent, connect.AgentID, connect.AgentID, h.logger)
	h.preloadAck(conn)
	conn.Run()
}

// readHandshake reads exactly one frame and decodes it as wantType's
// payload into dst. A mismatched or malformed first frame fails the
// handshake; protocol.Validate already enforces frame-shape, not content.
func (h *WSHandler) readHandshake(socket *websocket.Conn, wantType protocol.MessageType, dst any) bool {
	_ = socket.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := socket.ReadMessage()
	if err != nil {
		h.logger.Warn("handshake read failed", zap.Error(err))
		return false
	}
	_ = socket.SetReadDeadline(time.Time{})

	frame, err := protocol.Decode(raw)
	if err != nil {
		h.writeHandshakeError(socket, "PROTOCOL", err.Error())
		return false
	}
	if frame.Type != wantType {
		h.writeHandshakeError(socket, "PROTOCOL", "expected "+string(wantType)+" as the first frame")
		return false
	}
	if err := protocol.DecodePayload(frame, dst); err != nil {
		h.writeHandshakeError(socket, "PROTOCOL", err.Error())
		return false
	}
	return true
}

func (h *WSHandler) writeHandshakeError(socket *websocket.Conn, code, message string) {
	frame, err := protocol.NewFrame(protocol.TypeError, uuid.NewString(), time.Now(), protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	raw, err := protocol.Encode(frame)
	if err != nil {
		return
	}
	_ = socket.WriteMessage(websocket.TextMessage, raw)
}

// preloadAck queues connection:ack as the first outbound frame. Registration
// with the hub, and everything after, happens once conn.Run starts the
// pumps.
func (h *WSHandler) preloadAck(conn *hub.Conn) {
	frame, err := protocol.NewFrame(protocol.TypeConnectionAck, uuid.NewString(), time.Now(), protocol.ConnectionAck{
		ConnectionID:  conn.ID,
		ServerVersion: ServerVersion,
		Features:      []string{"priority-queue", "emergency-stop"},
	})
	if err != nil {
		return
	}
	conn.Preload(frame)
}
