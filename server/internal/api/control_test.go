package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/agentdirectory"
	"github.com/onsembl/onsembl/server/internal/audit"
	"github.com/onsembl/onsembl/server/internal/auth"
	"github.com/onsembl/onsembl/server/internal/hub"
	"github.com/onsembl/onsembl/server/internal/router"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

// fakeSender is the minimal router.Sender needed to exercise EmergencyStop
// without a real hub or sockets.
type fakeSender struct{}

func (fakeSender) Send(string, *protocol.Frame) bool { return true }
func (fakeSender) AgentConn(string) (*hub.Conn, bool) { return nil, false }
func (fakeSender) BroadcastToAgents(func(string) bool, *protocol.Frame)         {}
func (fakeSender) BroadcastToDashboards(func(*hub.Conn) bool, *protocol.Frame, string) {}

type fakeDirectory struct {
	records map[uuid.UUID]*agentdirectory.Record
}

func (d *fakeDirectory) GetByID(_ context.Context, id uuid.UUID) (*agentdirectory.Record, error) {
	r, ok := d.records[id]
	if !ok {
		return nil, agentdirectory.ErrNotFound
	}
	return r, nil
}

func (d *fakeDirectory) UpdateStatus(_ context.Context, id uuid.UUID, status types.AgentStatus, seenAt time.Time) error {
	if r, ok := d.records[id]; ok {
		r.Status = status
	}
	return nil
}

type fakeAudit struct {
	events []audit.Event
}

func (a *fakeAudit) Record(_ context.Context, ev audit.Event) error {
	a.events = append(a.events, ev)
	return nil
}

func newTestRouter() *router.Router {
	return router.New(zap.NewNop(), fakeSender{}, &fakeDirectory{records: map[uuid.UUID]*agentdirectory.Record{}}, &fakeAudit{})
}

func TestEmergencyStopHandlerRequiresReason(t *testing.T) {
	h := NewControlHandler(newTestRouter(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/emergency-stop", strings.NewReader(`{"reason":""}`))
	w := httptest.NewRecorder()

	h.EmergencyStop(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestEmergencyStopHandlerPrefixesReasonWithOperatorEmail(t *testing.T) {
	auditRec := &fakeAudit{}
	r := router.New(zap.NewNop(), fakeSender{}, &fakeDirectory{records: map[uuid.UUID]*agentdirectory.Record{}}, auditRec)
	h := NewControlHandler(r, zap.NewNop())

	body := `{"reason":"runaway agent"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/emergency-stop", strings.NewReader(body))
	ctx := context.WithValue(req.Context(), contextKeyUser, &auth.Claims{Email: "admin@example.com", Role: "admin"})
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	h.EmergencyStop(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(auditRec.events) != 1 || auditRec.events[0].Details["reason"] != "admin@example.com: runaway agent" {
		t.Fatalf("audit events = %+v, want one with reason prefixed by the operator email", auditRec.events)
	}
}

func TestEmergencyStopHandlerSucceedsWithoutClaims(t *testing.T) {
	h := NewControlHandler(newTestRouter(), zap.NewNop())

	body := `{"scope":["agent-1"],"reason":"maintenance"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/emergency-stop", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.EmergencyStop(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
}
