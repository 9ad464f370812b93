package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/agentdirectory"
	"github.com/onsembl/onsembl/server/internal/audit"
	"github.com/onsembl/onsembl/server/internal/hub"
	"github.com/onsembl/onsembl/server/internal/metrics"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

// ErrCommandNotFound is returned by Interrupt when the command id is not
// currently queued or dispatched (already terminal, or never existed).
var ErrCommandNotFound = errors.New("router: command not found")

// ErrAgentNotAccepting is returned by Submit when the target agent exists
// but its status does not permit new commands.
var ErrAgentNotAccepting = errors.New("router: agent is not accepting commands")

// Sender is the subset of *hub.Hub the router needs to deliver frames and
// inspect live connections. Satisfied by *hub.Hub directly; narrowed here
// so tests can supply a fake without standing up real WebSocket sockets.
type Sender interface {
	Send(connID string, frame *protocol.Frame) bool
	AgentConn(agentID string) (*hub.Conn, bool)
	BroadcastToAgents(predicate func(agentID string) bool, frame *protocol.Frame)
	BroadcastToDashboards(predicate func(c *hub.Conn) bool, frame *protocol.Frame, exclude string)
}

// AgentDirectory is the subset of *agentdirectory.Directory the router
// needs to check and update agent status around dispatch.
type AgentDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*agentdirectory.Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status types.AgentStatus, seenAt time.Time) error
}

// AuditRecorder is the subset of *audit.Funnel the router needs to record
// command-sent/completed and emergency-stop events.
type AuditRecorder interface {
	Record(ctx context.Context, ev audit.Event) error
}

// Router owns every agent's priority queue and dispatch state. It
// implements hub.Handler and is the single frame handler wired into the
// hub; audit and heartbeat processing (component E) are reached through
// the injected AuditRecorder rather than as a second Handler, since the
// hub dispatches to exactly one.
type Router struct {
	logger    *zap.Logger
	sender    Sender
	directory AgentDirectory
	audit     AuditRecorder

	mu         sync.Mutex
	queues     map[string]*agentQueue  // agentID -> queue
	holding    map[string][]*Command   // agentID -> commands held during an outage
	commands   map[uuid.UUID]*Command  // every non-terminal command, by id
	timeouts   map[uuid.UUID]*time.Timer
	interrupts map[uuid.UUID]*time.Timer
}

// New constructs a Router. audit may be nil to skip audit recording (unit
// tests that don't care about it); directory and sender are required.
func New(logger *zap.Logger, sender Sender, directory AgentDirectory, auditRecorder AuditRecorder) *Router {
	return &Router{
		logger:     logger,
		sender:     sender,
		directory:  directory,
		audit:      auditRecorder,
		queues:     make(map[string]*agentQueue),
		holding:    make(map[string][]*Command),
		commands:   make(map[uuid.UUID]*Command),
		timeouts:   make(map[uuid.UUID]*time.Timer),
		interrupts: make(map[uuid.UUID]*time.Timer),
	}
}

// Submit validates the target agent and enqueues cmd on its priority
// queue. If the agent is ready and idle, cmd is dispatched immediately.
func (r *Router) Submit(ctx context.Context, cmd *Command) error {
	agentUUID, err := uuid.Parse(cmd.AgentID)
	if err != nil {
		return fmt.Errorf("router: invalid agent id %q: %w", cmd.AgentID, err)
	}
	rec, err := r.directory.GetByID(ctx, agentUUID)
	if err != nil {
		return fmt.Errorf("router: looking up agent %s: %w", cmd.AgentID, err)
	}
	switch rec.Status {
	case types.AgentStatusStopping, types.AgentStatusStopped, types.AgentStatusOffline:
		return ErrAgentNotAccepting
	}

	r.mu.Lock()
	q := r.queueFor(cmd.AgentID)
	q.enqueue(cmd)
	r.commands[cmd.ID] = cmd
	shouldDispatch := q.dispatched == nil && q.peekNext() == cmd && rec.Status == types.AgentStatusReady
	r.mu.Unlock()

	r.emitCommandStatus(cmd)
	r.emitQueueUpdate(cmd.AgentID)

	if r.audit != nil {
		_ = r.audit.Record(ctx, audit.Event{
			Kind:    types.AuditCommandSent,
			AgentID: &agentUUID,
			Details: map[string]interface{}{"commandId": cmd.ID.String(), "priority": string(cmd.Priority)},
		})
	}

	if shouldDispatch {
		r.dispatch(ctx, cmd.AgentID)
	}
	return nil
}

func (r *Router) queueFor(agentID string) *agentQueue {
	q, ok := r.queues[agentID]
	if !ok {
		q = newAgentQueue()
		r.queues[agentID] = q
	}
	return q
}

// dispatch pops the next queued command for agentID, if the agent is idle,
// and forwards it as command:request.
func (r *Router) dispatch(ctx context.Context, agentID string) {
	r.mu.Lock()
	q := r.queues[agentID]
	if q == nil || q.dispatched != nil {
		r.mu.Unlock()
		return
	}
	cmd := q.popNext()
	if cmd == nil {
		r.mu.Unlock()
		return
	}
	cmd.State = types.CommandDispatched
	cmd.DispatchedAt = time.Now()
	q.dispatched = cmd
	r.mu.Unlock()

	conn, ok := r.sender.AgentConn(agentID)
	if !ok {
		r.failDispatched(ctx, agentID, "agent not connected")
		return
	}

	frame, err := protocol.NewFrame(protocol.TypeCommandRequest, uuid.NewString(), time.Now(), protocol.CommandRequest{
		CommandID: cmd.ID.String(),
		AgentID:   agentID,
		Command:   cmd.Text,
		Args:      cmd.Args,
		Options:   cmd.Options,
		Priority:  cmd.Priority,
	})
	if err != nil {
		r.logger.Error("encode command:request", zap.Error(err))
		r.failDispatched(ctx, agentID, "encode error")
		return
	}

	if !r.sender.Send(conn.ID, frame) {
		r.failDispatched(ctx, agentID, "send failed")
		return
	}

	if agentUUID, err := uuid.Parse(agentID); err == nil {
		_ = r.directory.UpdateStatus(ctx, agentUUID, types.AgentStatusBusy, time.Now())
	}
	metrics.CommandsDispatched.WithLabelValues(agentID).Inc()
	r.emitCommandStatus(cmd)
	r.emitQueueUpdate(agentID)
	r.startTimeout(cmd)
}

// defaultCommandTimeout applies when a submitted command doesn't specify
// its own TimeoutSeconds.
const defaultCommandTimeout = 5 * time.Minute

func (r *Router) startTimeout(cmd *Command) {
	d := defaultCommandTimeout
	if cmd.Options.TimeoutSeconds > 0 {
		d = time.Duration(cmd.Options.TimeoutSeconds) * time.Second
	}
	timer := time.AfterFunc(d, func() {
		r.failDispatchedCommand(context.Background(), cmd, "timeout")
	})
	r.mu.Lock()
	r.timeouts[cmd.ID] = timer
	r.mu.Unlock()
}

func (r *Router) stopTimer(set map[uuid.UUID]*time.Timer, id uuid.UUID) {
	if t, ok := set[id]; ok {
		t.Stop()
		delete(set, id)
	}
}

// failDispatched fails whatever command is currently dispatched to
// agentID, e.g. because the agent connection disappeared mid-dispatch.
func (r *Router) failDispatched(ctx context.Context, agentID, reason string) {
	r.mu.Lock()
	q := r.queues[agentID]
	if q == nil || q.dispatched == nil {
		r.mu.Unlock()
		return
	}
	cmd := q.dispatched
	r.mu.Unlock()
	r.failDispatchedCommand(ctx, cmd, reason)
}

// failDispatchedCommand force-completes cmd as failed and advances the
// queue. Used for dispatch-timeout, transport failure, and interrupt-grace
// expiry.
func (r *Router) failDispatchedCommand(ctx context.Context, cmd *Command, reason string) {
	r.completeDispatched(ctx, cmd.AgentID, cmd.ID, types.CommandFailed, nil, reason)
}

// OnOutput processes one terminal:output chunk reported by the agent for
// its currently-dispatched command.
func (r *Router) OnOutput(ctx context.Context, agentID string, chunk protocol.TerminalOutput) {
	r.mu.Lock()
	q := r.queues[agentID]
	if q == nil || q.dispatched == nil || q.dispatched.ID.String() != chunk.CommandID {
		r.mu.Unlock()
		r.logger.Warn("output for unknown or non-dispatched command",
			zap.String("agentId", agentID), zap.String("commandId", chunk.CommandID))
		return
	}
	cmd := q.dispatched
	if chunk.Sequence <= cmd.LastSequence {
		r.mu.Unlock()
		return // duplicate, drop
	}
	outOfOrder := chunk.Sequence > cmd.LastSequence+1
	cmd.LastSequence = chunk.Sequence
	r.mu.Unlock()

	if outOfOrder {
		r.logger.Warn("out-of-order output sequence",
			zap.String("agentId", agentID), zap.String("commandId", chunk.CommandID),
			zap.Int64("sequence", chunk.Sequence))
	}

	frame, err := protocol.NewFrame(protocol.TypeTerminalOutput, uuid.NewString(), time.Now(), chunk)
	if err != nil {
		r.logger.Error("encode terminal:output", zap.Error(err))
		return
	}
	r.sender.BroadcastToDashboards(func(c *hub.Conn) bool { return c.IsSubscribed(agentID) }, frame, "")
}

// OnComplete processes a terminal command:status reported by the agent for
// its currently-dispatched command.
func (r *Router) OnComplete(ctx context.Context, agentID string, status protocol.CommandStatus) {
	if !status.Status.IsTerminal() {
		// Non-terminal status updates (e.g. "running") are just forwarded;
		// they don't advance the queue.
		r.forwardStatus(agentID, status)
		return
	}
	cmdID, err := uuid.Parse(status.CommandID)
	if err != nil {
		r.logger.Warn("command:status with invalid commandId", zap.String("commandId", status.CommandID))
		return
	}
	r.completeDispatched(ctx, agentID, cmdID, status.Status, status.ExitCode, status.Error)
}

func (r *Router) forwardStatus(agentID string, status protocol.CommandStatus) {
	frame, err := protocol.NewFrame(protocol.TypeCommandStatus, uuid.NewString(), time.Now(), status)
	if err != nil {
		return
	}
	r.sender.BroadcastToDashboards(func(c *hub.Conn) bool { return c.IsSubscribed(agentID) }, frame, "")
}

// completeDispatched is the single path by which a dispatched command
// reaches a terminal state, whether via agent-reported completion,
// dispatch timeout, transport failure, or interrupt-grace expiry.
func (r *Router) completeDispatched(ctx context.Context, agentID string, cmdID uuid.UUID, state types.CommandState, exitCode *int, errMsg string) {
	r.mu.Lock()
	q := r.queues[agentID]
	if q == nil || q.dispatched == nil || q.dispatched.ID != cmdID {
		r.mu.Unlock()
		return
	}
	cmd := q.dispatched
	q.dispatched = nil
	cmd.State = state
	cmd.CompletedAt = time.Now()
	cmd.ExitCode = exitCode
	cmd.Error = errMsg
	delete(r.commands, cmd.ID)
	r.stopTimer(r.timeouts, cmd.ID)
	r.stopTimer(r.interrupts, cmd.ID)
	r.mu.Unlock()

	metrics.CommandsCompleted.WithLabelValues(string(state)).Inc()
	if agentUUID, err := uuid.Parse(agentID); err == nil {
		_ = r.directory.UpdateStatus(ctx, agentUUID, types.AgentStatusReady, time.Now())
		if r.audit != nil {
			_ = r.audit.Record(ctx, audit.Event{
				Kind:      types.AuditCommandCompleted,
				AgentID:   &agentUUID,
				CommandID: &cmd.ID,
				Details:   map[string]interface{}{"status": string(state), "error": errMsg},
			})
		}
	}
	r.emitCommandStatus(cmd)
	r.emitQueueUpdate(agentID)
	r.dispatch(ctx, agentID)
}

// Interrupt cancels a queued command immediately, or requests a graceful
// interrupt of the dispatched head with a grace window before forcing it
// to failed{timeout}.
func (r *Router) Interrupt(ctx context.Context, cmdID uuid.UUID, reason string) error {
	r.mu.Lock()
	cmd, ok := r.commands[cmdID]
	if !ok {
		r.mu.Unlock()
		return ErrCommandNotFound
	}
	q := r.queues[cmd.AgentID]

	if q.dispatched != nil && q.dispatched.ID == cmdID {
		r.mu.Unlock()
		return r.interruptDispatched(ctx, cmd, reason)
	}

	removed, found := q.remove(cmdID)
	if !found {
		r.mu.Unlock()
		return ErrCommandNotFound
	}
	delete(r.commands, cmdID)
	removed.State = types.CommandCancelled
	removed.CompletedAt = time.Now()
	r.mu.Unlock()

	metrics.CommandsCompleted.WithLabelValues(string(types.CommandCancelled)).Inc()
	r.emitCommandStatus(removed)
	r.emitQueueUpdate(removed.AgentID)
	return nil
}

func (r *Router) interruptDispatched(ctx context.Context, cmd *Command, reason string) error {
	conn, ok := r.sender.AgentConn(cmd.AgentID)
	if !ok {
		r.completeDispatched(ctx, cmd.AgentID, cmd.ID, types.CommandFailed, nil, "transport")
		return nil
	}

	frame, err := protocol.NewFrame(protocol.TypeCommandInterrupt, uuid.NewString(), time.Now(), protocol.CommandInterrupt{
		CommandID: cmd.ID.String(),
		Reason:    reason,
	})
	if err != nil {
		return fmt.Errorf("router: encode command:interrupt: %w", err)
	}
	r.sender.Send(conn.ID, frame)

	timer := time.AfterFunc(DefaultInterruptGrace, func() {
		r.completeDispatched(context.Background(), cmd.AgentID, cmd.ID, types.CommandFailed, nil, "timeout")
	})
	r.mu.Lock()
	r.interrupts[cmd.ID] = timer
	r.mu.Unlock()
	return nil
}

// EmergencyStop interrupts the running command and cancels every queued
// command for each agent in scope, then instructs the agent to stop. An
// empty scope targets every agent with an active queue. One emergency-stop
// audit entry is written listing every affected agent and cancelled
// command.
func (r *Router) EmergencyStop(ctx context.Context, scope []string, reason string) error {
	r.mu.Lock()
	if len(scope) == 0 {
		for agentID := range r.queues {
			scope = append(scope, agentID)
		}
	}

	type affected struct {
		agentID    string
		dispatched *Command
		cancelled  []*Command
	}
	var hit []affected

	for _, agentID := range scope {
		q := r.queues[agentID]
		if q == nil {
			continue
		}
		cancelled := q.drain()
		for _, c := range cancelled {
			delete(r.commands, c.ID)
			c.State = types.CommandCancelled
			c.CompletedAt = time.Now()
		}
		hit = append(hit, affected{agentID: agentID, dispatched: q.dispatched, cancelled: cancelled})
	}
	r.mu.Unlock()

	var agentIDs, commandIDs []string
	for _, a := range hit {
		agentIDs = append(agentIDs, a.agentID)
		for _, c := range a.cancelled {
			commandIDs = append(commandIDs, c.ID.String())
			r.emitCommandStatus(c)
		}
		if a.dispatched != nil {
			commandIDs = append(commandIDs, a.dispatched.ID.String())
			_ = r.interruptDispatched(ctx, a.dispatched, "emergency-stop")
		}
		r.emitQueueUpdate(a.agentID)

		frame, err := protocol.NewFrame(protocol.TypeAgentControl, uuid.NewString(), time.Now(), protocol.AgentControl{Action: "stop"})
		if err == nil {
			if conn, ok := r.sender.AgentConn(a.agentID); ok {
				r.sender.Send(conn.ID, frame)
			}
		}
	}

	if r.audit != nil {
		_ = r.audit.Record(ctx, audit.Event{
			Kind: types.AuditEmergencyStop,
			Details: map[string]interface{}{
				"agentIds":   agentIDs,
				"commandIds": commandIDs,
				"reason":     reason,
			},
		})
	}

	if frame, err := protocol.NewFrame(protocol.TypeEmergencyStop, uuid.NewString(), time.Now(), protocol.EmergencyStop{
		AgentIDs:   agentIDs,
		CommandIDs: commandIDs,
		Reason:     reason,
	}); err == nil {
		r.sender.BroadcastToDashboards(nil, frame, "")
	}
	return nil
}

// Shutdown drains every agent's queue and force-completes any dispatched
// command as failed{shutdown}. Without this, the hub's own teardown would
// reach the same agents through HandleDisconnect, which holds queued
// commands for a possible reconnect and fails only the dispatched one as
// failed{transport} — indistinguishable from an agent that merely dropped
// its connection. Called once, before the hub tears down its connections.
func (r *Router) Shutdown(ctx context.Context) {
	const shutdownReason = "shutdown"

	type affected struct {
		agentID    string
		dispatched *Command
		cancelled  []*Command
	}

	r.mu.Lock()
	var hit []affected
	for agentID, q := range r.queues {
		cancelled := q.drain()
		for _, c := range cancelled {
			delete(r.commands, c.ID)
			c.State = types.CommandFailed
			c.Error = shutdownReason
			c.CompletedAt = time.Now()
		}

		dispatched := q.dispatched
		if dispatched != nil {
			q.dispatched = nil
			delete(r.commands, dispatched.ID)
			r.stopTimer(r.timeouts, dispatched.ID)
			r.stopTimer(r.interrupts, dispatched.ID)
			dispatched.State = types.CommandFailed
			dispatched.Error = shutdownReason
			dispatched.CompletedAt = time.Now()
		}

		hit = append(hit, affected{agentID: agentID, dispatched: dispatched, cancelled: cancelled})
	}
	r.mu.Unlock()

	for _, a := range hit {
		for _, c := range a.cancelled {
			r.emitCommandStatus(c)
		}
		if a.dispatched != nil {
			r.emitCommandStatus(a.dispatched)
			if r.audit != nil {
				if agentUUID, err := uuid.Parse(a.agentID); err == nil {
					_ = r.audit.Record(ctx, audit.Event{
						Kind:      types.AuditCommandCompleted,
						AgentID:   &agentUUID,
						CommandID: &a.dispatched.ID,
						Details:   map[string]interface{}{"status": string(types.CommandFailed), "error": shutdownReason},
					})
				}
			}
		}
		r.emitQueueUpdate(a.agentID)
	}
}

// QueueDepth reports the queued and dispatched counts for agentID.
func (r *Router) QueueDepth(agentID string) (high, normal, low int, dispatched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[agentID]
	if q == nil {
		return 0, 0, 0, false
	}
	h, n, l := q.depth()
	return h, n, l, q.dispatched != nil
}

func (r *Router) emitCommandStatus(cmd *Command) {
	metrics.QueueDepth.WithLabelValues(cmd.AgentID, string(cmd.Priority)).Set(float64(r.queuedCount(cmd.AgentID, cmd.Priority)))
	payload := protocol.CommandStatus{
		CommandID: cmd.ID.String(),
		AgentID:   cmd.AgentID,
		Status:    cmd.State,
		ExitCode:  cmd.ExitCode,
		Error:     cmd.Error,
	}
	if !cmd.CompletedAt.IsZero() && !cmd.DispatchedAt.IsZero() {
		payload.ExecutionTime = cmd.CompletedAt.Sub(cmd.DispatchedAt).Milliseconds()
	}
	frame, err := protocol.NewFrame(protocol.TypeCommandStatus, uuid.NewString(), time.Now(), payload)
	if err != nil {
		r.logger.Error("encode command:status", zap.Error(err))
		return
	}
	r.sender.BroadcastToDashboards(func(c *hub.Conn) bool { return c.IsSubscribed(cmd.AgentID) }, frame, "")
}

func (r *Router) queuedCount(agentID string, priority types.CommandPriority) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[agentID]
	if q == nil {
		return 0
	}
	h, n, l := q.depth()
	switch priority {
	case types.PriorityHigh:
		return h
	case types.PriorityLow:
		return l
	default:
		return n
	}
}

func (r *Router) emitQueueUpdate(agentID string) {
	r.mu.Lock()
	q := r.queues[agentID]
	var entries []protocol.QueueEntry
	if q != nil {
		for i, cmd := range q.snapshot() {
			entries = append(entries, protocol.QueueEntry{CommandID: cmd.ID.String(), Priority: cmd.Priority, Position: i + 1})
		}
	}
	r.mu.Unlock()

	frame, err := protocol.NewFrame(protocol.TypeCommandQueue, uuid.NewString(), time.Now(), protocol.CommandQueue{
		AgentID: agentID,
		Queue:   entries,
	})
	if err != nil {
		return
	}
	r.sender.BroadcastToDashboards(func(c *hub.Conn) bool { return c.IsSubscribed(agentID) }, frame, "")
}

// holdQueue moves every command currently queued or dispatched for agentID
// into the back-pressure holding list, used on slow-consumer close or
// disconnect. The dispatched command itself is failed{transport}; queued
// entries are held, not cancelled, since a reconnect may still serve them.
func (r *Router) holdQueue(ctx context.Context, agentID string) {
	r.mu.Lock()
	q := r.queues[agentID]
	if q == nil {
		r.mu.Unlock()
		return
	}
	held := q.drain()
	dispatched := q.dispatched
	r.holding[agentID] = append(r.holding[agentID], held...)
	r.mu.Unlock()

	if dispatched != nil {
		r.completeDispatched(ctx, agentID, dispatched.ID, types.CommandFailed, nil, "transport")
	}
	r.emitQueueUpdate(agentID)
}

// releaseHolding re-enqueues agentID's held commands at the head of its
// queue, preserving relative priority order, then attempts dispatch. Called
// when the agent establishes a new connection.
func (r *Router) releaseHolding(ctx context.Context, agentID string) {
	r.mu.Lock()
	held := r.holding[agentID]
	delete(r.holding, agentID)
	if len(held) == 0 {
		r.mu.Unlock()
		return
	}
	q := r.queueFor(agentID)
	rest := q.drain()
	for _, cmd := range held {
		q.enqueue(cmd)
	}
	for _, cmd := range rest {
		q.enqueue(cmd)
	}
	r.mu.Unlock()

	r.emitQueueUpdate(agentID)
	r.dispatch(ctx, agentID)
}

// HandleFrame implements hub.Handler. conn's Kind determines which frame
// types are legal; frames arriving on the wrong kind of connection are
// logged and dropped.
func (r *Router) HandleFrame(conn *hub.Conn, frame *protocol.Frame) {
	ctx := context.Background()
	switch frame.Type {
	case protocol.TypeCommandRequest:
		var p protocol.CommandRequest
		if err := protocol.DecodePayload(frame, &p); err != nil {
			r.logger.Warn("decode command:request", zap.Error(err))
			return
		}
		cmdID, err := uuid.Parse(p.CommandID)
		if err != nil {
			return
		}
		cmd := NewCommand(cmdID, p.AgentID, conn.Principal, p.Command, p.Args, p.Options, p.Priority)
		if err := r.Submit(ctx, cmd); err != nil {
			r.logger.Warn("submit command", zap.Error(err), zap.String("agentId", p.AgentID))
		}

	case protocol.TypeCommandInterrupt:
		var p protocol.CommandInterrupt
		if err := protocol.DecodePayload(frame, &p); err != nil {
			return
		}
		cmdID, err := uuid.Parse(p.CommandID)
		if err != nil {
			return
		}
		_ = r.Interrupt(ctx, cmdID, p.Reason)

	case protocol.TypeTerminalOutput:
		var p protocol.TerminalOutput
		if err := protocol.DecodePayload(frame, &p); err != nil {
			return
		}
		r.OnOutput(ctx, conn.AgentID, p)

	case protocol.TypeCommandStatus:
		var p protocol.CommandStatus
		if err := protocol.DecodePayload(frame, &p); err != nil {
			return
		}
		r.OnComplete(ctx, conn.AgentID, p)

	case protocol.TypeDashboardSubscribe:
		var p protocol.DashboardSubscribe
		if err := protocol.DecodePayload(frame, &p); err != nil {
			return
		}
		conn.Subscribe(p.AgentIDs)
	}
}

// HandleConnect implements hub.Handler. New agent connections release any
// holding list accumulated during the outage.
func (r *Router) HandleConnect(conn *hub.Conn) {
	if conn.Kind == types.ConnectionKindAgent {
		r.releaseHolding(context.Background(), conn.AgentID)
	}
}

// HandleDisconnect implements hub.Handler. A departing agent's in-flight
// and queued work moves to the holding list rather than being lost.
func (r *Router) HandleDisconnect(conn *hub.Conn) {
	if conn.Kind == types.ConnectionKindAgent {
		r.holdQueue(context.Background(), conn.AgentID)
	}
}
