package supervisor

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/onsembl/onsembl/shared/types"
)

type completedCommand struct {
	id    string
	state types.CommandState
}

type fakeSink struct {
	statuses  []types.AgentStatus
	outputs   int
	completed []completedCommand
}

func (f *fakeSink) OnStatus(s types.AgentStatus) { f.statuses = append(f.statuses, s) }
func (f *fakeSink) OnCommandComplete(id string, state types.CommandState, exitCode *int, errMsg string) {
	f.completed = append(f.completed, completedCommand{id: id, state: state})
}

func TestRestartBackoffGrowsAndCaps(t *testing.T) {
	cases := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
	}
	for attempt, want := range cases {
		if got := restartBackoff(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
	if got := restartBackoff(20); got != 30*time.Second {
		t.Errorf("expected cap at 30s, got %v", got)
	}
}

func TestNewSupervisorStartsInConnectingState(t *testing.T) {
	sink := &fakeSink{}
	s := New(Config{Kind: types.AgentKindCustom, Command: "true"}, nil, sink, zap.NewNop())

	if s.State() != types.AgentStatusConnecting {
		t.Fatalf("expected initial state connecting, got %s", s.State())
	}
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	sink := &fakeSink{}
	s := New(Config{Kind: types.AgentKindCustom, Command: "true"}, nil, sink, zap.NewNop())

	for i := 0; i < 16; i++ {
		if err := s.Enqueue(Command{ID: "x"}); err != nil {
			t.Fatalf("unexpected error filling queue: %v", err)
		}
	}
	if err := s.Enqueue(Command{ID: "overflow"}); err == nil {
		t.Fatal("expected error when queue is full")
	}
}

func TestContainsAnyMatchesSentinel(t *testing.T) {
	if !containsAny("some output\nReady for input\n", []string{"Ready for input"}) {
		t.Fatal("expected sentinel match")
	}
	if containsAny("no match here", []string{"Ready for input"}) {
		t.Fatal("expected no match")
	}
}

func TestRunOneCommandCompletesOnIdleSignal(t *testing.T) {
	sink := &fakeSink{}
	s := New(Config{Kind: types.AgentKindCustom, Command: "true"}, nil, sink, zap.NewNop())

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	s.stdin = w

	idleCh := make(chan struct{}, 1)
	childExited := make(chan struct{})
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		s.runOneCommand(Command{ID: "cmd-1"}, idleCh, childExited, stop)
		close(done)
	}()

	idleCh <- struct{}{}
	<-done
	w.Close()

	if len(sink.completed) != 1 || sink.completed[0].state != types.CommandCompleted {
		t.Fatalf("expected one completed command, got %+v", sink.completed)
	}
}

func TestRunOneCommandInterruptsOnSignal(t *testing.T) {
	sink := &fakeSink{}
	s := New(Config{Kind: types.AgentKindCustom, Command: "true"}, nil, sink, zap.NewNop())

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	s.stdin = w

	idleCh := make(chan struct{}, 1)
	childExited := make(chan struct{})
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		s.runOneCommand(Command{ID: "cmd-1"}, idleCh, childExited, stop)
		close(done)
	}()

	// Give runOneCommand time to store interruptSig before interrupting.
	for i := 0; i < 100; i++ {
		s.mu.Lock()
		ready := s.interruptSig != nil
		s.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s.Interrupt("operator requested")
	<-done
	w.Close()

	if len(sink.completed) != 1 || sink.completed[0].state != types.CommandInterrupted {
		t.Fatalf("expected one interrupted command, got %+v", sink.completed)
	}
}
