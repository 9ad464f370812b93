package protocol

import "github.com/onsembl/onsembl/shared/types"

// DashboardConnect is the payload of dashboard:connect.
type DashboardConnect struct {
	Token      string            `json:"token"`
	ClientInfo map[string]string `json:"clientInfo,omitempty"`
}

// AgentConnect is the payload of agent:connect.
type AgentConnect struct {
	AgentID      string                   `json:"agentId"`
	AgentType    types.AgentKind          `json:"agentType"`
	Version      string                   `json:"version"`
	HostMachine  string                   `json:"hostMachine"`
	Capabilities types.AgentCapabilities  `json:"capabilities"`
}

// ConnectionAck is the payload of connection:ack.
type ConnectionAck struct {
	ConnectionID  string   `json:"connectionId"`
	ServerVersion string   `json:"serverVersion"`
	Features      []string `json:"features"`
}

// CommandRequest is the payload of command:request, both the dashboard's
// submission and the server's forwarded dispatch to the agent wrapper.
type CommandRequest struct {
	CommandID string                 `json:"commandId"`
	AgentID   string                 `json:"agentId"`
	Command   string                 `json:"command"`
	Args      []string               `json:"args,omitempty"`
	Options   types.CommandOptions   `json:"options,omitempty"`
	Priority  types.CommandPriority  `json:"priority"`
}

// CommandInterrupt is the payload of command:interrupt.
type CommandInterrupt struct {
	CommandID string `json:"commandId"`
	Reason    string `json:"reason,omitempty"`
}

// CommandStatus is the payload of command:status.
type CommandStatus struct {
	CommandID     string             `json:"commandId"`
	AgentID       string             `json:"agentId"`
	Status        types.CommandState `json:"status"`
	ExitCode      *int               `json:"exitCode,omitempty"`
	Error         string             `json:"error,omitempty"`
	ExecutionTime int64              `json:"executionTime,omitempty"`
}

// TerminalOutput is the payload of terminal:output — one output chunk.
type TerminalOutput struct {
	CommandID    string             `json:"commandId"`
	AgentID      string             `json:"agentId"`
	Data         string             `json:"data"`
	Stream       types.OutputStream `json:"stream"`
	Sequence     int64              `json:"sequence"`
	AnsiCodes    string             `json:"ansiCodes,omitempty"`
	IsBlank      bool               `json:"isBlank,omitempty"`
	IsBinary     bool               `json:"isBinary,omitempty"`
	IsCompressed bool               `json:"isCompressed,omitempty"`
}

// AgentStatusPayload is the payload of agent:status.
type AgentStatusPayload struct {
	AgentID      string                  `json:"agentId"`
	AgentType    types.AgentKind         `json:"agentType"`
	Status       types.AgentStatus       `json:"status"`
	Capabilities *types.AgentCapabilities `json:"capabilities,omitempty"`
	Metadata     map[string]string       `json:"metadata,omitempty"`
}

// AgentSummary is one entry of agent:list.
type AgentSummary struct {
	AgentID   string            `json:"agentId"`
	AgentType types.AgentKind   `json:"agentType"`
	Status    types.AgentStatus `json:"status"`
	Name      string            `json:"name"`
}

// AgentList is the payload of agent:list.
type AgentList struct {
	Agents []AgentSummary `json:"agents"`
}

// QueueEntry is one entry of command:queue.
type QueueEntry struct {
	CommandID string                `json:"commandId"`
	Priority  types.CommandPriority `json:"priority"`
	Position  int                   `json:"position"`
}

// CommandQueue is the payload of command:queue.
type CommandQueue struct {
	AgentID string       `json:"agentId"`
	Queue   []QueueEntry `json:"queue"`
}

// HealthMetrics is the application-level heartbeat payload carried inside
// AgentHeartbeat.
type HealthMetrics struct {
	CPUPercent          float64 `json:"cpuPercent"`
	MemoryBytes         uint64  `json:"memoryBytes"`
	UptimeSeconds       int64   `json:"uptimeSeconds"`
	CommandsProcessed   int64   `json:"commandsProcessed"`
	AvgResponseTimeMs   float64 `json:"avgResponseTimeMs"`
}

// AgentHeartbeat is the payload of agent:heartbeat.
type AgentHeartbeat struct {
	AgentID       string        `json:"agentId"`
	HealthMetrics HealthMetrics `json:"healthMetrics"`
}

// TokenRefresh is the payload of token:refresh.
type TokenRefresh struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// ErrorPayload is the payload of error.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// AgentControl is the payload of agent:control{restart|stop}.
type AgentControl struct {
	Action string `json:"action"`
}

// EmergencyStop is the payload of the emergency-stop audit marker frame.
type EmergencyStop struct {
	AgentIDs   []string `json:"agentIds"`
	CommandIDs []string `json:"commandIds"`
	Reason     string   `json:"reason,omitempty"`
}

// DashboardSubscribe is the payload of dashboard:subscribe.
type DashboardSubscribe struct {
	AgentIDs []string `json:"agentIds"`
}
