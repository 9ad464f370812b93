package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/router"
)

// ControlHandler exposes administrative actions over the command router
// that have no place as an inbound WebSocket frame — emergency-stop is
// "server-initiated" on the wire (§6's message catalogue lists it only as
// an outbound audit marker), so an operator triggers it here instead.
type ControlHandler struct {
	router *router.Router
	logger *zap.Logger
}

// NewControlHandler creates a new ControlHandler.
func NewControlHandler(r *router.Router, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{router: r, logger: logger.Named("control_handler")}
}

// emergencyStopRequest is the JSON body expected by
// POST /api/v1/agents/emergency-stop. An empty Scope targets every agent
// with an active queue.
type emergencyStopRequest struct {
	Scope  []string `json:"scope,omitempty"`
	Reason string   `json:"reason"`
}

// EmergencyStop handles POST /api/v1/agents/emergency-stop (admin only).
// It interrupts and cancels all queued and running commands for every agent
// in scope and writes a single audit entry.
func (h *ControlHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Reason == "" {
		ErrBadRequest(w, "reason is required")
		return
	}

	claims := claimsFromCtx(r.Context())
	reason := req.Reason
	if claims != nil {
		reason = claims.Email + ": " + reason
	}

	if err := h.router.EmergencyStop(r.Context(), req.Scope, reason); err != nil {
		h.logger.Error("emergency stop failed", zap.Error(err), zap.Strings("scope", req.Scope))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
