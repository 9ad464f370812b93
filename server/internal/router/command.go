// Package router implements the command router and per-agent priority
// queue (component D): it accepts command submissions from dashboards,
// dispatches them to agents one at a time in strict priority order, and
// reconciles output and completion frames back from the agent side.
package router

import (
	"time"

	"github.com/google/uuid"

	"github.com/onsembl/onsembl/shared/types"
)

// DefaultInterruptGrace is how long the router waits for an agent to
// acknowledge command:interrupt with command:status{interrupted} before
// force-completing the command as failed{timeout}.
const DefaultInterruptGrace = 2 * time.Second

// Command is the router's mutable view of a single submitted command. The
// identity, target and payload are fixed at submission; only State,
// LastSequence, the timestamps, ExitCode and Error are mutated thereafter,
// and only by the router.
type Command struct {
	ID        uuid.UUID
	AgentID   string
	Requester string // authenticated principal (user id) that submitted it
	Text      string
	Args      []string
	Options   types.CommandOptions
	Priority  types.CommandPriority

	State        types.CommandState
	LastSequence int64

	CreatedAt    time.Time
	DispatchedAt time.Time
	CompletedAt  time.Time

	ExitCode *int
	Error    string
}

// NewCommand builds a freshly-submitted Command in the queued state.
func NewCommand(id uuid.UUID, agentID, requester, text string, args []string, opts types.CommandOptions, priority types.CommandPriority) *Command {
	return &Command{
		ID:        id,
		AgentID:   agentID,
		Requester: requester,
		Text:      text,
		Args:      args,
		Options:   opts,
		Priority:  priority,
		State:     types.CommandQueued,
		CreatedAt: time.Now(),
	}
}
