package protocol

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onsembl/onsembl/shared/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cmdID := uuid.NewString()
	agentID := uuid.NewString()
	payload := CommandRequest{
		CommandID: cmdID,
		AgentID:   agentID,
		Command:   "echo hi",
		Priority:  types.PriorityNormal,
	}
	frame, err := NewFrame(TypeCommandRequest, uuid.NewString(), time.Now(), payload)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	raw, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != TypeCommandRequest {
		t.Fatalf("decoded.Type = %q, want %q", decoded.Type, TypeCommandRequest)
	}

	var got CommandRequest
	if err := DecodePayload(decoded, &got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.Command != "echo hi" || got.AgentID != agentID {
		t.Fatalf("round-tripped payload = %+v", got)
	}

	if err := Validate(decoded); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"version":"1.0.0","type":"made-up","id":"x","timestamp":1}`)
	_, err := Decode(raw)
	if err == nil {
		t.Fatal("Decode did not reject unknown type")
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	cases := []string{
		`{"type":"ping","id":"x","timestamp":1}`,
		`{"version":"1.0.0","id":"x","timestamp":1}`,
		`{"version":"1.0.0","type":"ping","timestamp":1}`,
		`{"version":"1.0.0","type":"ping","id":"x","timestamp":0}`,
	}
	for _, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Errorf("Decode(%s) did not fail", raw)
		}
	}
}

func TestValidateRejectsNonUUIDIds(t *testing.T) {
	frame, err := NewFrame(TypeCommandRequest, uuid.NewString(), time.Now(), CommandRequest{
		CommandID: "not-a-uuid",
		AgentID:   uuid.NewString(),
		Command:   "echo hi",
		Priority:  types.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if err := Validate(frame); err == nil {
		t.Fatal("Validate accepted a non-UUID commandId")
	}
}

func TestValidateRejectsUnknownPriority(t *testing.T) {
	frame, err := NewFrame(TypeCommandRequest, uuid.NewString(), time.Now(), CommandRequest{
		CommandID: uuid.NewString(),
		AgentID:   uuid.NewString(),
		Command:   "echo hi",
		Priority:  "urgent",
	})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if err := Validate(frame); err == nil {
		t.Fatal("Validate accepted an unknown priority")
	}
}

func TestIsClientServerOriginated(t *testing.T) {
	if !IsClientOriginated(TypeCommandRequest) {
		t.Error("command:request should be client-originated")
	}
	if IsClientOriginated(TypeAgentStatus) {
		t.Error("agent:status should not be client-originated")
	}
	if !IsServerOriginated(TypeAgentStatus) {
		t.Error("agent:status should be server-originated")
	}
	if !IsClientOriginated(TypePing) || !IsServerOriginated(TypePing) {
		t.Error("ping should be bidirectional")
	}
}
