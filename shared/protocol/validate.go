package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/onsembl/onsembl/shared/types"
)

// Validate runs the per-type validator registered for f.Type against its
// decoded payload. It is the enforcement point for required fields, UUID
// shape, and enum membership mentioned in the frame codec's contract.
func Validate(f *Frame) error {
	switch f.Type {
	case TypeDashboardConnect:
		var p DashboardConnect
		if err := DecodePayload(f, &p); err != nil {
			return err
		}
		if p.Token == "" {
			return &DecodeError{Reason: "dashboard:connect: missing token"}
		}
	case TypeAgentConnect:
		var p AgentConnect
		if err := DecodePayload(f, &p); err != nil {
			return err
		}
		if !validUUID(p.AgentID) {
			return &DecodeError{Reason: "agent:connect: agentId is not a UUID"}
		}
		if !validAgentKind(p.AgentType) {
			return &DecodeError{Reason: fmt.Sprintf("agent:connect: unknown agentType %q", p.AgentType)}
		}
	case TypeCommandRequest:
		var p CommandRequest
		if err := DecodePayload(f, &p); err != nil {
			return err
		}
		if !validUUID(p.CommandID) {
			return &DecodeError{Reason: "command:request: commandId is not a UUID"}
		}
		if !validUUID(p.AgentID) {
			return &DecodeError{Reason: "command:request: agentId is not a UUID"}
		}
		if p.Command == "" {
			return &DecodeError{Reason: "command:request: missing command"}
		}
		if !validPriority(p.Priority) {
			return &DecodeError{Reason: fmt.Sprintf("command:request: unknown priority %q", p.Priority)}
		}
	case TypeCommandInterrupt:
		var p CommandInterrupt
		if err := DecodePayload(f, &p); err != nil {
			return err
		}
		if !validUUID(p.CommandID) {
			return &DecodeError{Reason: "command:interrupt: commandId is not a UUID"}
		}
	case TypeHeartbeat:
		var p AgentHeartbeat
		if err := DecodePayload(f, &p); err != nil {
			return err
		}
		if !validUUID(p.AgentID) {
			return &DecodeError{Reason: "agent:heartbeat: agentId is not a UUID"}
		}
	case TypeDashboardSubscribe:
		var p DashboardSubscribe
		if err := DecodePayload(f, &p); err != nil {
			return err
		}
	case TypePing, TypePong, TypeAck:
		// No payload required.
	default:
		// Server-authored types are not validated on receipt — a client never
		// legitimately sends them, and IsKnownType already rejected anything
		// outside the closed enumeration.
	}
	return nil
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func validAgentKind(k types.AgentKind) bool {
	switch k {
	case types.AgentKindClaude, types.AgentKindGemini, types.AgentKindCodex, types.AgentKindCustom:
		return true
	default:
		return false
	}
}

func validPriority(p types.CommandPriority) bool {
	switch p {
	case types.PriorityHigh, types.PriorityNormal, types.PriorityLow:
		return true
	default:
		return false
	}
}
