// Package types defines shared domain types used by both server and agent.
package types

import "time"

// ─── Agent ───────────────────────────────────────────────────────────────────

// AgentKind identifies which kind of child process a wrapper supervises.
type AgentKind string

const (
	AgentKindClaude AgentKind = "claude"
	AgentKindGemini AgentKind = "gemini"
	AgentKindCodex  AgentKind = "codex"
	AgentKindCustom AgentKind = "custom"
)

// AgentStatus represents the current lifecycle state of an agent, as seen by
// the server. Transitions follow: connecting -> ready <-> busy ->
// (stopping -> stopped) | error -> connecting.
type AgentStatus string

const (
	AgentStatusConnecting AgentStatus = "connecting"
	AgentStatusReady      AgentStatus = "ready"
	AgentStatusBusy       AgentStatus = "busy"
	AgentStatusStopping   AgentStatus = "stopping"
	AgentStatusStopped    AgentStatus = "stopped"
	AgentStatusError      AgentStatus = "error"
	AgentStatusOffline    AgentStatus = "offline"
)

// AgentCapabilities describes what an agent connection declared on
// agent:connect.
type AgentCapabilities struct {
	MaxTokens         int  `json:"maxTokens,omitempty"`
	SupportsInterrupt bool `json:"supportsInterrupt"`
	SupportsTrace     bool `json:"supportsTrace"`
}

// ─── Connection ──────────────────────────────────────────────────────────────

// ConnectionKind identifies whether a transport-level connection belongs to
// a wrapper (agent) or an operator UI (dashboard).
type ConnectionKind string

const (
	ConnectionKindAgent     ConnectionKind = "agent"
	ConnectionKindDashboard ConnectionKind = "dashboard"
)

// Close codes used on the control-plane WebSocket.
const (
	CloseNormal           = 1000
	CloseHeartbeatTimeout = 4000
	CloseSuperseded       = 4001
	CloseSlowConsumer     = 4002
	CloseAuthFailed       = 4003
)

// ─── Command ─────────────────────────────────────────────────────────────────

// CommandPriority orders a command's position among the three per-agent
// FIFO sub-queues.
type CommandPriority string

const (
	PriorityHigh   CommandPriority = "high"
	PriorityNormal CommandPriority = "normal"
	PriorityLow    CommandPriority = "low"
)

// CommandState is the lifecycle state of a submitted command. A command
// reaches exactly one terminal state: completed, failed, interrupted or
// cancelled.
type CommandState string

const (
	CommandQueued      CommandState = "queued"
	CommandDispatched  CommandState = "dispatched"
	CommandRunning     CommandState = "running"
	CommandCompleted   CommandState = "completed"
	CommandFailed      CommandState = "failed"
	CommandInterrupted CommandState = "interrupted"
	CommandCancelled   CommandState = "cancelled"
)

// IsTerminal reports whether s is one of the four terminal command states.
func (s CommandState) IsTerminal() bool {
	switch s {
	case CommandCompleted, CommandFailed, CommandInterrupted, CommandCancelled:
		return true
	default:
		return false
	}
}

// CommandOptions carries optional execution constraints for a command.
type CommandOptions struct {
	TimeoutSeconds   int               `json:"timeout,omitempty"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
}

// ─── Output ──────────────────────────────────────────────────────────────────

// OutputStream identifies which child-process stream an output chunk came
// from.
type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// ─── Audit ───────────────────────────────────────────────────────────────────

// AuditEventKind is drawn from the closed enumeration of significant events
// the audit log records.
type AuditEventKind string

const (
	AuditUserLogin        AuditEventKind = "user-login"
	AuditUserLogout       AuditEventKind = "user-logout"
	AuditAgentConnect     AuditEventKind = "agent-connect"
	AuditAgentDisconnect  AuditEventKind = "agent-disconnect"
	AuditCommandSent      AuditEventKind = "command-sent"
	AuditCommandCompleted AuditEventKind = "command-completed"
	AuditPresetCreated    AuditEventKind = "preset-created"
	AuditPresetUpdated    AuditEventKind = "preset-updated"
	AuditEmergencyStop    AuditEventKind = "emergency-stop"
	AuditAgentError       AuditEventKind = "agent-error"
	AuditConfigChange     AuditEventKind = "config-change"
)

// SensitiveKeys is the set of audit detail-map keys that are redacted before
// persistence. Values are replaced with the literal "[REDACTED]", except for
// DroppedKeys below, which are removed from the map entirely.
var SensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"secret":        true,
	"refresh_token": true,
	"accessToken":   true,
}

// DroppedKeys is the subset of SensitiveKeys whose redaction would be
// trivially reversible if merely masked (the value *is* the live
// credential), so the key is dropped from the persisted details map instead
// of being replaced with a placeholder.
var DroppedKeys = map[string]bool{
	"token":       true,
	"accessToken": true,
}

// ─── Reconnection ────────────────────────────────────────────────────────────

// BreakerState is the observable state of a circuit breaker guarding a
// reconnection loop.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// ─── Auth ────────────────────────────────────────────────────────────────────

// AuthProvider identifies the authentication method used by an operator
// account.
type AuthProvider string

const (
	AuthProviderLocal AuthProvider = "local"
	AuthProviderOIDC  AuthProvider = "oidc"
)

// UserRole represents the permission level of an operator account.
type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleOperator UserRole = "operator"
	UserRoleViewer   UserRole = "viewer"
)

// ─── Pagination ──────────────────────────────────────────────────────────────

// Page holds pagination parameters for list queries.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PagedResult wraps a list result with total count for pagination.
type PagedResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  Page  `json:"page"`
}

// ─── Time ────────────────────────────────────────────────────────────────────

// TimeRange defines a half-open time interval for filtering queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
