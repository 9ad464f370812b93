// Package wsclient owns the agent's single outbound connection to the
// control plane: dialing, authenticating, the agent:connect handshake,
// heartbeats, and automatic reconnection with backoff and a circuit
// breaker.
//
// It plays the role the teacher's connection package plays for its gRPC
// session, generalized from a bidirectional-streaming gRPC client to a
// JSON-framed WebSocket client, and from hand-rolled backoff/jitter to the
// shared reconnection submodule used by both sides of the control bus.
package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/agent/internal/credential"
	"github.com/onsembl/onsembl/agent/internal/streamcapture"
	"github.com/onsembl/onsembl/agent/internal/supervisor"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/reconnect"
	"github.com/onsembl/onsembl/shared/types"
)

// maxReconnectAttempts bounds the number of consecutive dial failures
// before the client gives up entirely and returns from Run. The reconnect
// package itself imposes no attempt limit; this constant is the only bound.
const maxReconnectAttempts = 10

// Config describes how to reach and identify to the server.
type Config struct {
	ServerURL    string // ws(s)://host:port
	AgentID      string // stable id, reused across reconnects
	AgentType    types.AgentKind
	Version      string
	Capabilities types.AgentCapabilities

	HeartbeatInterval time.Duration
}

// Client owns the control-plane session and implements
// supervisor.OutputSink and supervisor.StatusSink so it can receive chunks
// and status transitions straight from the supervisor and forward them as
// frames.
type Client struct {
	cfg    Config
	creds  *credential.Store
	super  *supervisor.Supervisor
	logger *zap.Logger

	backoff *reconnect.Backoff
	breaker *reconnect.Breaker

	mu          sync.Mutex
	conn        *websocket.Conn
	outbound    chan *protocol.Frame
	sequences   map[string]int64 // commandID -> last emitted sequence
	startedAt   time.Time
	cmdsHandled int64
}

// New constructs a Client. super may be nil at construction — the
// supervisor itself is typically constructed with this Client as its
// OutputSink/StatusSink, so the caller builds the Client first and wires
// the supervisor in afterward with AttachSupervisor, the same way the
// server's hub and router break their circular construction dependency.
func New(cfg Config, creds *credential.Store, super *supervisor.Supervisor, logger *zap.Logger) *Client {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	c := &Client{
		cfg:       cfg,
		creds:     creds,
		super:     super,
		logger:    logger.Named("wsclient"),
		backoff:   reconnect.DefaultBackoff(),
		sequences: make(map[string]int64),
		startedAt: time.Now(),
	}
	c.breaker = reconnect.NewBreaker(func(s types.BreakerState) {
		c.logger.Info("breaker state changed", zap.String("state", string(s)))
	})
	return c
}

// AttachSupervisor assigns the supervisor after construction. Not safe to
// call once Run has started dispatching inbound frames.
func (c *Client) AttachSupervisor(super *supervisor.Supervisor) {
	c.super = super
}

// Run drives the reconnect loop until ctx is cancelled or
// maxReconnectAttempts consecutive failures have occurred; the breaker only
// gates when the next attempt may start.
func (c *Client) Run(ctx context.Context, metrics func() protocol.HealthMetrics) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !c.breaker.CanAttempt() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		err := c.session(ctx, metrics)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			c.breaker.RecordSuccess()
			c.backoff.Reset()
			failures = 0
			continue
		}

		c.logger.Warn("control-plane session ended", zap.Error(err))
		c.breaker.RecordFailure()
		failures++
		if failures >= maxReconnectAttempts {
			return fmt.Errorf("wsclient: giving up after %d consecutive failures: %w", failures, err)
		}

		delay := c.backoff.Next()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session dials once, authenticates, runs the handshake, and pumps frames
// until the socket closes or ctx is cancelled. A nil error return means the
// session ended cleanly (ctx cancellation); any other return is a failure
// the caller retries.
func (c *Client) session(ctx context.Context, metrics func() protocol.HealthMetrics) error {
	token, err := c.accessToken()
	if err != nil {
		return fmt.Errorf("wsclient: no access token: %w", err)
	}

	wsURL, err := buildAgentURL(c.cfg.ServerURL, c.cfg.AgentID, token)
	if err != nil {
		return fmt.Errorf("wsclient: build url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, header)
	cancel()
	if err != nil {
		return fmt.Errorf("wsclient: dial: %w", err)
	}
	defer conn.Close()

	if err := c.sendConnect(conn); err != nil {
		return fmt.Errorf("wsclient: handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.outbound = make(chan *protocol.Frame, 64)
	c.mu.Unlock()

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	errCh := make(chan error, 3)
	go func() { errCh <- c.readLoop(conn) }()
	go func() { errCh <- c.writeLoop(sessionCtx, conn) }()
	go func() { errCh <- c.heartbeatLoop(sessionCtx, conn, metrics) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// accessToken returns the stored access token, falling back to the stored
// API key if no token has been issued yet — the server accepts either as a
// bearer credential on first connect.
func (c *Client) accessToken() (string, error) {
	if tok, err := c.creds.AccessToken(); err == nil {
		return tok, nil
	}
	return c.creds.APIKey()
}

func buildAgentURL(serverURL, agentID, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/agent"
	q := u.Query()
	q.Set("agentId", agentID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) sendConnect(conn *websocket.Conn) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	frame, err := protocol.NewFrame(protocol.TypeAgentConnect, uuid.NewString(), time.Now(), protocol.AgentConnect{
		AgentID:      c.cfg.AgentID,
		AgentType:    c.cfg.AgentType,
		Version:      c.cfg.Version,
		HostMachine:  hostname,
		Capabilities: c.cfg.Capabilities,
	})
	if err != nil {
		return err
	}
	raw, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err = conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading connection:ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	ack, err := protocol.Decode(raw)
	if err != nil {
		return err
	}
	if ack.Type == protocol.TypeError {
		var payload protocol.ErrorPayload
		_ = protocol.DecodePayload(ack, &payload)
		return fmt.Errorf("server rejected connect: %s", payload.Message)
	}
	if ack.Type != protocol.TypeConnectionAck {
		return fmt.Errorf("expected connection:ack, got %s", ack.Type)
	}
	return nil
}

// readLoop decodes inbound frames and dispatches them to the supervisor.
// Runs until the socket errors (including a context-driven close).
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		frame, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.TypeCommandRequest:
		var p protocol.CommandRequest
		if err := protocol.DecodePayload(frame, &p); err != nil {
			c.logger.Warn("bad command:request payload", zap.Error(err))
			return
		}
		timeout := time.Duration(p.Options.TimeoutSeconds) * time.Second
		if err := c.super.Enqueue(supervisor.Command{ID: p.CommandID, Text: p.Command, Args: p.Args, Timeout: timeout}); err != nil {
			c.logger.Warn("failed to enqueue command", zap.String("commandId", p.CommandID), zap.Error(err))
		}
	case protocol.TypeCommandInterrupt:
		var p protocol.CommandInterrupt
		if err := protocol.DecodePayload(frame, &p); err != nil {
			return
		}
		c.super.Interrupt(p.Reason)
	case protocol.TypeAgentControl:
		var p protocol.AgentControl
		if err := protocol.DecodePayload(frame, &p); err != nil {
			return
		}
		switch p.Action {
		case "restart":
			c.super.RequestRestart()
		case "stop":
			c.super.Stop(context.Background())
		}
	case protocol.TypeTokenRefresh:
		var p protocol.TokenRefresh
		if err := protocol.DecodePayload(frame, &p); err != nil {
			return
		}
		if err := c.creds.SetAccessToken(p.AccessToken); err != nil {
			c.logger.Warn("failed to persist refreshed token", zap.Error(err))
		}
	case protocol.TypePing:
		c.enqueueFrame(protocol.TypePong, struct{}{})
	case protocol.TypeError:
		var p protocol.ErrorPayload
		_ = protocol.DecodePayload(frame, &p)
		c.logger.Warn("server error frame", zap.String("code", p.Code), zap.String("message", p.Message))
	}
}

// writeLoop drains the outbound channel onto the socket until ctx is
// cancelled.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-c.outbound:
			raw, err := protocol.Encode(frame)
			if err != nil {
				c.logger.Warn("failed to encode outbound frame", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// heartbeatLoop sends agent:heartbeat on cfg.HeartbeatInterval until ctx is
// cancelled.
func (c *Client) heartbeatLoop(ctx context.Context, _ *websocket.Conn, metrics func() protocol.HealthMetrics) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hm := protocol.HealthMetrics{}
			if metrics != nil {
				hm = metrics()
			}
			c.mu.Lock()
			hm.CommandsProcessed = c.cmdsHandled
			hm.UptimeSeconds = int64(time.Since(c.startedAt).Seconds())
			c.mu.Unlock()
			c.enqueueFrame(protocol.TypeHeartbeat, protocol.AgentHeartbeat{
				AgentID:       c.cfg.AgentID,
				HealthMetrics: hm,
			})
		}
	}
}

func (c *Client) enqueueFrame(t protocol.MessageType, payload any) {
	frame, err := protocol.NewFrame(t, uuid.NewString(), time.Now(), payload)
	if err != nil {
		c.logger.Warn("failed to build frame", zap.String("type", string(t)), zap.Error(err))
		return
	}
	c.mu.Lock()
	out := c.outbound
	c.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- frame:
	default:
		c.logger.Warn("outbound buffer full, dropping frame", zap.String("type", string(t)))
	}
}

// OnOutput implements supervisor.OutputSink: it assigns a per-command
// sequence number and forwards the chunk as terminal:output.
func (c *Client) OnOutput(commandID string, stream types.OutputStream, chunk streamcapture.Chunk) {
	c.mu.Lock()
	c.sequences[commandID]++
	seq := c.sequences[commandID]
	c.mu.Unlock()

	c.enqueueFrame(protocol.TypeTerminalOutput, protocol.TerminalOutput{
		CommandID: commandID,
		AgentID:   c.cfg.AgentID,
		Data:      chunk.Data,
		Stream:    stream,
		Sequence:  seq,
		AnsiCodes: chunk.AnsiCodes,
		IsBlank:   chunk.IsBlank,
		IsBinary:  chunk.IsBinary,
	})
}

// OnStatus implements supervisor.StatusSink: it forwards the agent's status
// transition as agent:status.
func (c *Client) OnStatus(status types.AgentStatus) {
	c.enqueueFrame(protocol.TypeAgentStatus, protocol.AgentStatusPayload{
		AgentID:      c.cfg.AgentID,
		AgentType:    c.cfg.AgentType,
		Status:       status,
		Capabilities: &c.cfg.Capabilities,
	})
}

// OnCommandComplete implements supervisor.StatusSink: it forwards the
// command's terminal state as command:status.
func (c *Client) OnCommandComplete(commandID string, state types.CommandState, exitCode *int, errMsg string) {
	c.mu.Lock()
	delete(c.sequences, commandID)
	c.cmdsHandled++
	c.mu.Unlock()

	c.enqueueFrame(protocol.TypeCommandStatus, protocol.CommandStatus{
		CommandID: commandID,
		AgentID:   c.cfg.AgentID,
		Status:    state,
		ExitCode:  exitCode,
		Error:     errMsg,
	})
}
