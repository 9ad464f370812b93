package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/agentdirectory"
	"github.com/onsembl/onsembl/server/internal/audit"
	"github.com/onsembl/onsembl/server/internal/hub"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

// fakeSender records frames sent to each connection id and tracks which
// connection id is "the" live connection for each agent, without any real
// WebSocket transport.
type fakeSender struct {
	mu        sync.Mutex
	sent      map[string][]*protocol.Frame // connID -> frames
	agentConn map[string]*hub.Conn         // agentID -> conn
	dashboards []*hub.Conn
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sent:      make(map[string][]*protocol.Frame),
		agentConn: make(map[string]*hub.Conn),
	}
}

func (s *fakeSender) Send(connID string, frame *protocol.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[connID] = append(s.sent[connID], frame)
	return true
}

func (s *fakeSender) AgentConn(agentID string) (*hub.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.agentConn[agentID]
	return c, ok
}

func (s *fakeSender) BroadcastToAgents(predicate func(agentID string) bool, frame *protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for agentID, c := range s.agentConn {
		if predicate == nil || predicate(agentID) {
			s.sent[c.ID] = append(s.sent[c.ID], frame)
		}
	}
}

func (s *fakeSender) BroadcastToDashboards(predicate func(c *hub.Conn) bool, frame *protocol.Frame, exclude string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.dashboards {
		if c.ID == exclude {
			continue
		}
		if predicate == nil || predicate(c) {
			s.sent[c.ID] = append(s.sent[c.ID], frame)
		}
	}
}

func (s *fakeSender) framesFor(connID string) []*protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Frame, len(s.sent[connID]))
	copy(out, s.sent[connID])
	return out
}

func newFakeConn(kind types.ConnectionKind, agentID, principal string) *hub.Conn {
	return hub.NewConn(nil, nil, uuid.NewString(), kind, agentID, principal, zap.NewNop())
}

// fakeDirectory is a minimal in-memory AgentDirectory for router tests.
type fakeDirectory struct {
	mu      sync.Mutex
	records map[uuid.UUID]*agentdirectory.Record
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{records: make(map[uuid.UUID]*agentdirectory.Record)}
}

func (d *fakeDirectory) put(id uuid.UUID, status types.AgentStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[id] = &agentdirectory.Record{ID: id, Status: status}
}

func (d *fakeDirectory) GetByID(ctx context.Context, id uuid.UUID) (*agentdirectory.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return nil, agentdirectory.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (d *fakeDirectory) UpdateStatus(ctx context.Context, id uuid.UUID, status types.AgentStatus, seenAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return agentdirectory.ErrNotFound
	}
	rec.Status = status
	return nil
}

type fakeAuditRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *fakeAuditRecorder) Record(ctx context.Context, ev audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func setup(t *testing.T) (*Router, *fakeSender, *fakeDirectory, *hub.Conn, uuid.UUID) {
	t.Helper()
	sender := newFakeSender()
	directory := newFakeDirectory()

	agentUUID := uuid.Must(uuid.NewV7())
	directory.put(agentUUID, types.AgentStatusReady)

	agentConn := newFakeConn(types.ConnectionKindAgent, agentUUID.String(), agentUUID.String())
	sender.agentConn[agentUUID.String()] = agentConn

	dashConn := newFakeConn(types.ConnectionKindDashboard, "", "user-1")
	dashConn.Subscribe([]string{agentUUID.String()})
	sender.dashboards = append(sender.dashboards, dashConn)

	r := New(zap.NewNop(), sender, directory, &fakeAuditRecorder{})
	return r, sender, directory, agentConn, agentUUID
}

func TestSubmitDispatchesImmediatelyWhenAgentReady(t *testing.T) {
	r, sender, _, agentConn, agentUUID := setup(t)

	cmd := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "echo hi", nil, types.CommandOptions{}, types.PriorityNormal)
	if err := r.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	frames := sender.framesFor(agentConn.ID)
	if len(frames) != 1 || frames[0].Type != protocol.TypeCommandRequest {
		t.Fatalf("expected one command:request sent to agent, got %d frames", len(frames))
	}
	if cmd.State != types.CommandDispatched {
		t.Fatalf("cmd.State = %s, want dispatched", cmd.State)
	}
}

func TestStartTimeoutFallsBackToDefaultWhenUnset(t *testing.T) {
	r, _, _, _, agentUUID := setup(t)

	cmd := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "echo hi", nil, types.CommandOptions{}, types.PriorityNormal)
	if err := r.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r.mu.Lock()
	_, ok := r.timeouts[cmd.ID]
	r.mu.Unlock()
	if !ok {
		t.Fatal("expected a timeout timer to be started even without an explicit TimeoutSeconds")
	}
}

func TestSubmitRejectsStoppingAgent(t *testing.T) {
	r, _, directory, _, agentUUID := setup(t)
	directory.put(agentUUID, types.AgentStatusStopping)

	cmd := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "echo hi", nil, types.CommandOptions{}, types.PriorityNormal)
	if err := r.Submit(context.Background(), cmd); err != ErrAgentNotAccepting {
		t.Fatalf("Submit error = %v, want ErrAgentNotAccepting", err)
	}
}

func TestPriorityOrderingHighBeforeNormal(t *testing.T) {
	r, _, directory, _, agentUUID := setup(t)
	// Make the agent busy so submissions queue instead of dispatching.
	directory.put(agentUUID, types.AgentStatusBusy)

	normal := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "normal", nil, types.CommandOptions{}, types.PriorityNormal)
	high := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "high", nil, types.CommandOptions{}, types.PriorityHigh)

	ctx := context.Background()
	if err := r.Submit(ctx, normal); err != nil {
		t.Fatalf("Submit normal: %v", err)
	}
	if err := r.Submit(ctx, high); err != nil {
		t.Fatalf("Submit high: %v", err)
	}

	r.mu.Lock()
	next := r.queues[agentUUID.String()].peekNext()
	r.mu.Unlock()
	if next != high {
		t.Fatalf("peekNext() = %v, want the high-priority command", next.ID)
	}
}

func TestOnOutputDropsDuplicateAndForwardsOutOfOrder(t *testing.T) {
	r, sender, _, agentConn, agentUUID := setup(t)
	_ = agentConn

	cmd := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "run", nil, types.CommandOptions{}, types.PriorityNormal)
	if err := r.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r.OnOutput(context.Background(), agentUUID.String(), protocol.TerminalOutput{
		CommandID: cmd.ID.String(), AgentID: agentUUID.String(), Data: "one", Sequence: 1,
	})
	r.OnOutput(context.Background(), agentUUID.String(), protocol.TerminalOutput{
		CommandID: cmd.ID.String(), AgentID: agentUUID.String(), Data: "dup", Sequence: 1,
	})
	r.OnOutput(context.Background(), agentUUID.String(), protocol.TerminalOutput{
		CommandID: cmd.ID.String(), AgentID: agentUUID.String(), Data: "skip-ahead", Sequence: 5,
	})

	dashFrames := sender.framesFor(sender.dashboards[0].ID)
	var outputFrames int
	for _, f := range dashFrames {
		if f.Type == protocol.TypeTerminalOutput {
			outputFrames++
		}
	}
	// seq 1 forwarded, duplicate seq 1 dropped, seq 5 forwarded despite gap.
	if outputFrames != 2 {
		t.Fatalf("outputFrames = %d, want 2 (duplicate dropped, out-of-order still forwarded)", outputFrames)
	}
}

func TestOnCompleteAdvancesQueueToNextCommand(t *testing.T) {
	r, sender, directory, agentConn, agentUUID := setup(t)

	first := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "first", nil, types.CommandOptions{}, types.PriorityNormal)
	second := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "second", nil, types.CommandOptions{}, types.PriorityNormal)

	ctx := context.Background()
	if err := r.Submit(ctx, first); err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	directory.put(agentUUID, types.AgentStatusBusy)
	if err := r.Submit(ctx, second); err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	exitCode := 0
	r.OnComplete(ctx, agentUUID.String(), protocol.CommandStatus{
		CommandID: first.ID.String(), AgentID: agentUUID.String(), Status: types.CommandCompleted, ExitCode: &exitCode,
	})

	if first.State != types.CommandCompleted {
		t.Fatalf("first.State = %s, want completed", first.State)
	}
	if second.State != types.CommandDispatched {
		t.Fatalf("second.State = %s, want dispatched", second.State)
	}

	var dispatchCount int
	for _, f := range sender.framesFor(agentConn.ID) {
		if f.Type == protocol.TypeCommandRequest {
			dispatchCount++
		}
	}
	if dispatchCount != 2 {
		t.Fatalf("dispatchCount = %d, want 2 (first then second)", dispatchCount)
	}
}

func TestInterruptCancelsQueuedCommand(t *testing.T) {
	r, _, directory, _, agentUUID := setup(t)
	directory.put(agentUUID, types.AgentStatusBusy)

	cmd := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "queued", nil, types.CommandOptions{}, types.PriorityNormal)
	ctx := context.Background()
	if err := r.Submit(ctx, cmd); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := r.Interrupt(ctx, cmd.ID, "operator cancel"); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if cmd.State != types.CommandCancelled {
		t.Fatalf("cmd.State = %s, want cancelled", cmd.State)
	}
}

func TestInterruptUnknownCommandReturnsErrCommandNotFound(t *testing.T) {
	r, _, _, _, _ := setup(t)
	if err := r.Interrupt(context.Background(), uuid.Must(uuid.NewV7()), "x"); err != ErrCommandNotFound {
		t.Fatalf("Interrupt error = %v, want ErrCommandNotFound", err)
	}
}

func TestEmergencyStopCancelsQueueAndInterruptsDispatched(t *testing.T) {
	r, sender, directory, agentConn, agentUUID := setup(t)

	dispatched := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "running", nil, types.CommandOptions{}, types.PriorityNormal)
	ctx := context.Background()
	if err := r.Submit(ctx, dispatched); err != nil {
		t.Fatalf("Submit dispatched: %v", err)
	}

	directory.put(agentUUID, types.AgentStatusBusy)
	queued := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "queued", nil, types.CommandOptions{}, types.PriorityNormal)
	if err := r.Submit(ctx, queued); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	if err := r.EmergencyStop(ctx, []string{agentUUID.String()}, "operator halt"); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}

	if queued.State != types.CommandCancelled {
		t.Fatalf("queued.State = %s, want cancelled", queued.State)
	}

	var sawInterrupt, sawControl bool
	for _, f := range sender.framesFor(agentConn.ID) {
		switch f.Type {
		case protocol.TypeCommandInterrupt:
			sawInterrupt = true
		case protocol.TypeAgentControl:
			sawControl = true
		}
	}
	if !sawInterrupt {
		t.Fatal("EmergencyStop did not send command:interrupt for the dispatched command")
	}
	if !sawControl {
		t.Fatal("EmergencyStop did not send agent:control{stop}")
	}

	var sawBroadcast bool
	for _, f := range sender.framesFor(sender.dashboards[0].ID) {
		if f.Type == protocol.TypeEmergencyStop {
			sawBroadcast = true
		}
	}
	if !sawBroadcast {
		t.Fatal("EmergencyStop did not broadcast an emergency-stop frame to dashboards")
	}
}

func TestShutdownFailsDispatchedAndQueuedCommands(t *testing.T) {
	r, _, directory, _, agentUUID := setup(t)

	dispatched := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "running", nil, types.CommandOptions{}, types.PriorityNormal)
	ctx := context.Background()
	if err := r.Submit(ctx, dispatched); err != nil {
		t.Fatalf("Submit dispatched: %v", err)
	}

	directory.put(agentUUID, types.AgentStatusBusy)
	queued := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "queued", nil, types.CommandOptions{}, types.PriorityNormal)
	if err := r.Submit(ctx, queued); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	r.Shutdown(ctx)

	if dispatched.State != types.CommandFailed || dispatched.Error != "shutdown" {
		t.Fatalf("dispatched command = %s/%q, want failed/shutdown", dispatched.State, dispatched.Error)
	}
	if queued.State != types.CommandFailed || queued.Error != "shutdown" {
		t.Fatalf("queued command = %s/%q, want failed/shutdown", queued.State, queued.Error)
	}

	// The hub's own teardown still calls HandleDisconnect for every agent;
	// since Shutdown already cleared the queue, this must be a no-op rather
	// than re-failing the already-finalized command or reviving it onto the
	// holding list.
	r.HandleDisconnect(newFakeConn(types.ConnectionKindAgent, agentUUID.String(), agentUUID.String()))
	if dispatched.State != types.CommandFailed || dispatched.Error != "shutdown" {
		t.Fatalf("HandleDisconnect mutated an already-finalized command: %s/%q", dispatched.State, dispatched.Error)
	}
}

func TestDisconnectHoldsQueueAndReconnectReleasesIt(t *testing.T) {
	r, sender, directory, agentConn, agentUUID := setup(t)

	dispatched := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "running", nil, types.CommandOptions{}, types.PriorityNormal)
	ctx := context.Background()
	if err := r.Submit(ctx, dispatched); err != nil {
		t.Fatalf("Submit dispatched: %v", err)
	}
	directory.put(agentUUID, types.AgentStatusBusy)
	queued := NewCommand(uuid.Must(uuid.NewV7()), agentUUID.String(), "user-1", "queued", nil, types.CommandOptions{}, types.PriorityNormal)
	if err := r.Submit(ctx, queued); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	r.HandleDisconnect(agentConn)
	if dispatched.State != types.CommandFailed {
		t.Fatalf("dispatched.State = %s, want failed after disconnect", dispatched.State)
	}

	r.mu.Lock()
	_, stillQueued := r.queues[agentUUID.String()]
	held := len(r.holding[agentUUID.String()])
	r.mu.Unlock()
	if held != 1 {
		t.Fatalf("held count = %d, want 1", held)
	}
	_ = stillQueued

	directory.put(agentUUID, types.AgentStatusReady)
	r.HandleConnect(agentConn)

	if queued.State != types.CommandDispatched {
		t.Fatalf("queued.State after reconnect = %s, want dispatched", queued.State)
	}

	var dispatchCount int
	for _, f := range sender.framesFor(agentConn.ID) {
		if f.Type == protocol.TypeCommandRequest {
			dispatchCount++
		}
	}
	if dispatchCount != 2 {
		t.Fatalf("dispatchCount = %d, want 2 (original dispatch + post-reconnect redispatch)", dispatchCount)
	}
}
