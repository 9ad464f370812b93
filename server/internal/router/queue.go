package router

import (
	"github.com/google/uuid"

	"github.com/onsembl/onsembl/shared/types"
)

// agentQueue holds one agent's three priority sub-queues plus the command
// currently dispatched to it, if any. Not safe for concurrent use — callers
// hold Router.mu.
type agentQueue struct {
	high, normal, low []*Command
	dispatched        *Command
}

func newAgentQueue() *agentQueue {
	return &agentQueue{}
}

func (q *agentQueue) tierFor(p types.CommandPriority) *[]*Command {
	switch p {
	case types.PriorityHigh:
		return &q.high
	case types.PriorityLow:
		return &q.low
	default:
		return &q.normal
	}
}

// enqueue appends cmd to the end of its priority tier.
func (q *agentQueue) enqueue(cmd *Command) {
	tier := q.tierFor(cmd.Priority)
	*tier = append(*tier, cmd)
}

// peekNext returns the command that would be dispatched next, without
// removing it. Priority order: high, normal, low; FIFO within a tier.
func (q *agentQueue) peekNext() *Command {
	switch {
	case len(q.high) > 0:
		return q.high[0]
	case len(q.normal) > 0:
		return q.normal[0]
	case len(q.low) > 0:
		return q.low[0]
	default:
		return nil
	}
}

// popNext removes and returns the command that peekNext would have
// returned.
func (q *agentQueue) popNext() *Command {
	for _, tier := range []*[]*Command{&q.high, &q.normal, &q.low} {
		if len(*tier) > 0 {
			cmd := (*tier)[0]
			*tier = (*tier)[1:]
			return cmd
		}
	}
	return nil
}

// remove excises a still-queued command by id from whichever tier holds it.
func (q *agentQueue) remove(id uuid.UUID) (*Command, bool) {
	for _, tier := range []*[]*Command{&q.high, &q.normal, &q.low} {
		for i, cmd := range *tier {
			if cmd.ID == id {
				*tier = append((*tier)[:i], (*tier)[i+1:]...)
				return cmd, true
			}
		}
	}
	return nil, false
}

// drain empties all three tiers and returns their contents in priority
// order, used both for back-pressure holding and emergency-stop.
func (q *agentQueue) drain() []*Command {
	all := make([]*Command, 0, len(q.high)+len(q.normal)+len(q.low))
	all = append(all, q.high...)
	all = append(all, q.normal...)
	all = append(all, q.low...)
	q.high, q.normal, q.low = nil, nil, nil
	return all
}

// depth returns the queued (not dispatched) length of each priority tier.
func (q *agentQueue) depth() (high, normal, low int) {
	return len(q.high), len(q.normal), len(q.low)
}

// snapshot returns every queued command (dispatched excluded) in dispatch
// order, for command:queue broadcasts.
func (q *agentQueue) snapshot() []*Command {
	out := make([]*Command, 0, len(q.high)+len(q.normal)+len(q.low))
	out = append(out, q.high...)
	out = append(out, q.normal...)
	out = append(out, q.low...)
	return out
}
