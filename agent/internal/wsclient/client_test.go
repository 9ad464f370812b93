package wsclient

import (
	"testing"

	"go.uber.org/zap"

	"github.com/onsembl/onsembl/agent/internal/credential"
	"github.com/onsembl/onsembl/agent/internal/streamcapture"
	"github.com/onsembl/onsembl/agent/internal/supervisor"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

func TestBuildAgentURLUpgradesHTTPToWS(t *testing.T) {
	got, err := buildAgentURL("http://localhost:8080", "agent-1", "tok")
	if err != nil {
		t.Fatalf("buildAgentURL: %v", err)
	}
	if got != "ws://localhost:8080/ws/agent?agentId=agent-1&token=tok" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestBuildAgentURLUpgradesHTTPSToWSS(t *testing.T) {
	got, err := buildAgentURL("https://onsembl.example.com", "agent-2", "tok2")
	if err != nil {
		t.Fatalf("buildAgentURL: %v", err)
	}
	if got != "wss://onsembl.example.com/ws/agent?agentId=agent-2&token=tok2" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	creds, err := credential.Open(t.TempDir())
	if err != nil {
		t.Fatalf("credential.Open: %v", err)
	}
	super := supervisor.New(supervisor.Config{Kind: types.AgentKindCustom, Command: "true"}, nil, nil, zap.NewNop())
	return New(Config{ServerURL: "ws://localhost", AgentID: "agent-1", AgentType: types.AgentKindCustom}, creds, super, zap.NewNop())
}

func TestOnStatusEnqueuesAgentStatusFrame(t *testing.T) {
	c := newTestClient(t)
	c.outbound = make(chan *protocol.Frame, 1)

	c.OnStatus(types.AgentStatusReady)

	select {
	case frame := <-c.outbound:
		if frame.Type != protocol.TypeAgentStatus {
			t.Fatalf("expected agent:status, got %s", frame.Type)
		}
	default:
		t.Fatal("expected a frame to be enqueued")
	}
}

func TestOnOutputAssignsIncrementingSequence(t *testing.T) {
	c := newTestClient(t)
	c.outbound = make(chan *protocol.Frame, 4)

	c.OnOutput("cmd-1", types.StreamStdout, streamcapture.Chunk{Data: "one"})
	c.OnOutput("cmd-1", types.StreamStdout, streamcapture.Chunk{Data: "two"})

	var payloads []protocol.TerminalOutput
	for i := 0; i < 2; i++ {
		frame := <-c.outbound
		var p protocol.TerminalOutput
		if err := protocol.DecodePayload(frame, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		payloads = append(payloads, p)
	}
	if payloads[0].Sequence != 1 || payloads[1].Sequence != 2 {
		t.Fatalf("expected sequences 1,2, got %d,%d", payloads[0].Sequence, payloads[1].Sequence)
	}
}

func TestOnCommandCompleteResetsSequenceForThatCommand(t *testing.T) {
	c := newTestClient(t)
	c.outbound = make(chan *protocol.Frame, 4)

	c.OnOutput("cmd-1", types.StreamStdout, streamcapture.Chunk{Data: "one"})
	<-c.outbound

	exitCode := 0
	c.OnCommandComplete("cmd-1", types.CommandCompleted, &exitCode, "")
	<-c.outbound // command:status

	c.OnOutput("cmd-1", types.StreamStdout, streamcapture.Chunk{Data: "restarted run"})
	frame := <-c.outbound
	var p protocol.TerminalOutput
	if err := protocol.DecodePayload(frame, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Sequence != 1 {
		t.Fatalf("expected sequence to restart at 1, got %d", p.Sequence)
	}
}
