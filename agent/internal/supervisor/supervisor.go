// Package supervisor owns the lifecycle of the child agent process (claude,
// gemini, codex or a custom command): spawning it with piped stdio,
// detecting readiness, capturing and forwarding its output, running health
// checks, and restarting it with backoff on unexpected exit.
//
// It plays the role the teacher's executor package plays for backup jobs —
// a single worker loop fed by an inbound queue — generalized from "one job
// at a time" to "one long-lived child process with a command queue fed to
// its stdin session".
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/onsembl/onsembl/agent/internal/streamcapture"
	"github.com/onsembl/onsembl/shared/types"
)

// readyTimeout bounds how long the supervisor waits for a readiness
// sentinel before declaring the startup attempt failed.
const readyTimeout = 30 * time.Second

// healthCheckInterval is how often the supervisor polls the child process
// for liveness.
const healthCheckInterval = 10 * time.Second

// healthFailureThreshold is how many consecutive failed health checks move
// the agent to error and trigger a restart.
const healthFailureThreshold = 3

// maxRestartAttempts is the number of consecutive restart attempts allowed
// before the supervisor gives up and stays in error. The counter resets on
// any successful transition to ready.
const maxRestartAttempts = 3

// graceExitWait is how long the supervisor waits after sending ETX before
// escalating to SIGKILL.
const graceExitWait = 5 * time.Second

// readySentinels maps an agent kind to the stdout substrings that indicate
// the child has finished starting up and is ready for input.
var readySentinels = map[types.AgentKind][]string{
	types.AgentKindClaude: {"Ready for input", "Welcome to Claude"},
	types.AgentKindGemini: {"Ready for input", "gemini>"},
	types.AgentKindCodex:  {"Ready for input", "codex>"},
	types.AgentKindCustom: {"Ready for input"},
}

// Config describes the child process to supervise.
type Config struct {
	Kind       types.AgentKind
	Command    string
	Args       []string
	WorkDir    string
	Env        []string
	Sentinels  []string // overrides the kind's default readiness sentinels when non-empty
}

// OutputSink receives terminal output chunks as the child produces them,
// tagged with the id of the command currently running (empty if output
// arrives outside of any dispatched command, e.g. startup banners).
// Implemented by the wsclient, which assigns a sequence number and forwards
// as terminal:output.
type OutputSink interface {
	OnOutput(commandID string, stream types.OutputStream, chunk streamcapture.Chunk)
}

// StatusSink receives agent status transitions and command completions.
// Implemented by the wsclient.
type StatusSink interface {
	OnStatus(status types.AgentStatus)
	OnCommandComplete(commandID string, state types.CommandState, exitCode *int, errMsg string)
}

// Command is one dispatched command:request to execute against the child's
// stdin session.
type Command struct {
	ID      string
	Text    string
	Args    []string
	Timeout time.Duration
}

// Supervisor owns exactly one child process at a time and the commands fed
// to it.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger
	output OutputSink
	status StatusSink

	mu            sync.Mutex
	state         types.AgentStatus
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	current       *Command
	restarts      int
	interrupted   bool
	interruptSig  chan struct{}
	stopRequested bool

	queue chan Command
}

// New constructs a Supervisor. Call Run to start the supervise loop.
func New(cfg Config, output OutputSink, status StatusSink, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: logger.Named("supervisor"),
		output: output,
		status: status,
		state:  types.AgentStatusConnecting,
		queue:  make(chan Command, 16),
	}
}

// State returns the current agent status.
func (s *Supervisor) State() types.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// currentCommandID returns the id of the command presently being fed to
// the child's stdin, or "" if none.
func (s *Supervisor) currentCommandID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// Enqueue queues cmd for dispatch to the child's stdin. Non-blocking;
// returns an error if the queue is saturated.
func (s *Supervisor) Enqueue(cmd Command) error {
	select {
	case s.queue <- cmd:
		return nil
	default:
		return fmt.Errorf("supervisor: command queue full, rejecting %s", cmd.ID)
	}
}

// Interrupt sends ETX to the child's stdin to request the running command
// stop early. It does not kill the process.
func (s *Supervisor) Interrupt(reason string) {
	s.mu.Lock()
	stdin := s.stdin
	s.interrupted = true
	sig := s.interruptSig
	s.mu.Unlock()

	if stdin == nil {
		return
	}
	s.logger.Info("interrupting running command", zap.String("reason", reason))
	_, _ = stdin.Write([]byte{0x03})
	if sig != nil {
		select {
		case sig <- struct{}{}:
		default:
		}
	}
}

// RequestRestart kills the current child process (if any) without marking
// the supervisor as permanently stopped, so Run's ordinary restart path
// spawns a new instance. The restart counter is reset first so this
// operator-triggered restart does not count against maxRestartAttempts.
func (s *Supervisor) RequestRestart() {
	s.mu.Lock()
	cmd := s.cmd
	s.restarts = 0
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Run drives the supervise loop: spawn, wait for ready, process queued
// commands, and restart on unexpected exit, until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.spawnAndRun(ctx); err != nil {
			s.logger.Warn("child process session ended", zap.Error(err))
		}

		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		stopRequested := s.stopRequested
		s.stopRequested = false
		s.mu.Unlock()
		if stopRequested {
			return
		}

		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if attempt > maxRestartAttempts {
			s.logger.Error("giving up after repeated restart failures", zap.Int("attempts", attempt))
			s.setState(types.AgentStatusError)
			return
		}

		backoff := restartBackoff(attempt)
		s.logger.Info("restarting child process", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// Stop requests a graceful, permanent shutdown of the current child
// process: ETX then a grace window then SIGKILL. Unlike an unexpected
// exit, Run does not restart the child afterward. Safe to call even if no
// process is running.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	s.stopRequested = true
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	s.setState(types.AgentStatusStopping)
	if stdin != nil {
		_, _ = stdin.Write([]byte{0x03})
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(graceExitWait):
		s.logger.Warn("child did not exit after ETX, sending SIGKILL")
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}
	s.setState(types.AgentStatusStopped)
}

// spawnAndRun spawns the child, waits for readiness, then blocks processing
// the command queue until the child exits or ctx is cancelled.
func (s *Supervisor) spawnAndRun(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.cfg.Env

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.interrupted = false
	s.stdin = stdinPipe
	s.mu.Unlock()
	s.setState(types.AgentStatusConnecting)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	outCapture := streamcapture.New(types.StreamStdout, func(c streamcapture.Chunk) {
		if s.output != nil {
			s.output.OnOutput(s.currentCommandID(), types.StreamStdout, c)
		}
	})
	errCapture := streamcapture.New(types.StreamStderr, func(c streamcapture.Chunk) {
		if s.output != nil {
			s.output.OnOutput(s.currentCommandID(), types.StreamStderr, c)
		}
	})

	readyCh := make(chan struct{}, 1)
	idleCh := make(chan struct{}, 1)
	sentinels := s.cfg.Sentinels
	if len(sentinels) == 0 {
		sentinels = readySentinels[s.cfg.Kind]
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpStream(stdoutPipe, outCapture, sentinels, readyCh, idleCh)
	}()
	go func() {
		defer wg.Done()
		s.pumpStream(stderrPipe, errCapture, nil, nil, nil)
	}()

	go outCapture.RunFlushLoop(stop)
	go errCapture.RunFlushLoop(stop)

	readyOrExit := make(chan struct{})
	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(readyOrExit)
	}()

	select {
	case <-readyCh:
		s.mu.Lock()
		s.restarts = 0
		s.mu.Unlock()
		s.setState(types.AgentStatusReady)
	case <-readyOrExit:
		close(stop)
		wg.Wait()
		return fmt.Errorf("supervisor: child exited before becoming ready")
	case <-time.After(readyTimeout):
		s.logger.Error("child did not become ready in time")
		s.setState(types.AgentStatusError)
		_ = cmd.Process.Kill()
		<-readyOrExit
		close(stop)
		wg.Wait()
		return fmt.Errorf("supervisor: readiness timeout")
	case <-ctx.Done():
		close(stop)
		return ctx.Err()
	}

	go s.runHealthChecks(ctx, cmd, stop)
	s.drainCommands(ctx, stop, readyOrExit, idleCh)

	close(stop)
	wg.Wait()

	err = <-exited
	if s.State() == types.AgentStatusStopped {
		return nil
	}
	if err != nil {
		s.setState(types.AgentStatusError)
		return fmt.Errorf("supervisor: child exited: %w", err)
	}
	return fmt.Errorf("supervisor: child exited unexpectedly")
}

// pumpStream copies r into capture line by line, additionally checking each
// chunk of raw output against sentinels (if non-nil). The first sentinel
// match fires readyCh once, signalling startup completion; every later
// match fires idleCh, signalling that the child's prompt has reappeared —
// the same mechanism used to detect command completion in runOneCommand.
func (s *Supervisor) pumpStream(r io.Reader, capture *streamcapture.Capturer, sentinels []string, readyCh, idleCh chan struct{}) {
	reader := bufio.NewReaderSize(r, 4096)
	started := false
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			capture.Write(chunk)
			if containsAny(string(chunk), sentinels) {
				if !started {
					started = true
					if readyCh != nil {
						select {
						case readyCh <- struct{}{}:
						default:
						}
					}
				} else if idleCh != nil {
					select {
					case idleCh <- struct{}{}:
					default:
					}
				}
			}
		}
		if err != nil {
			capture.Close()
			return
		}
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// runHealthChecks verifies the child is still alive every healthCheckInterval;
// after healthFailureThreshold consecutive failures it kills the process so
// spawnAndRun's exit path runs the restart logic.
func (s *Supervisor) runHealthChecks(ctx context.Context, cmd *exec.Cmd, stop <-chan struct{}) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if cmd.ProcessState != nil {
				failures++
			} else if !processAlive(cmd) {
				failures++
			} else {
				failures = 0
			}
			if failures >= healthFailureThreshold {
				s.logger.Error("health check failed repeatedly, killing child", zap.Int("failures", failures))
				s.setState(types.AgentStatusError)
				_ = cmd.Process.Kill()
				return
			}
		}
	}
}

func processAlive(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	// Signal 0 probes existence without affecting the process.
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}

// drainCommands feeds queued commands to the child's stdin one at a time
// until the child exits or ctx is cancelled. idleCh delivers the same
// readiness-sentinel signal used for startup detection, reused here to
// detect that the child has returned to its prompt and finished the
// command currently running.
func (s *Supervisor) drainCommands(ctx context.Context, stop <-chan struct{}, childExited <-chan struct{}, idleCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-childExited:
			return
		case cmd := <-s.queue:
			s.runOneCommand(cmd, idleCh, childExited, stop)
		}
	}
}

// runOneCommand writes cmd to the child's stdin and then blocks until one
// of: the readiness sentinel reappears in stdout (command completed, exit
// 0), an Interrupt() call fires the command's interrupt signal, the child
// process exits mid-command, the command's own timeout elapses, or the
// supervisor is shutting down.
func (s *Supervisor) runOneCommand(cmd Command, idleCh <-chan struct{}, childExited <-chan struct{}, stop <-chan struct{}) {
	s.mu.Lock()
	stdin := s.stdin
	s.current = &cmd
	s.interrupted = false
	interruptSig := make(chan struct{}, 1)
	s.interruptSig = interruptSig
	s.mu.Unlock()

	s.setState(types.AgentStatusBusy)

	if stdin == nil {
		s.finishCommand(cmd.ID, types.CommandFailed, nil, "no stdin session")
		return
	}

	drainStaleSignal(idleCh)

	line := cmd.Text
	if len(cmd.Args) > 0 {
		line = line + " " + strings.Join(cmd.Args, " ")
	}
	if _, err := stdin.Write([]byte(line + "\n")); err != nil {
		s.finishCommand(cmd.ID, types.CommandFailed, nil, fmt.Sprintf("write to stdin: %v", err))
		return
	}

	var timeoutCh <-chan time.Time
	if cmd.Timeout > 0 {
		timer := time.NewTimer(cmd.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-idleCh:
		zeroExit := 0
		s.finishCommand(cmd.ID, types.CommandCompleted, &zeroExit, "")
	case <-interruptSig:
		s.finishCommand(cmd.ID, types.CommandInterrupted, nil, "interrupted")
	case <-childExited:
		s.finishCommand(cmd.ID, types.CommandFailed, nil, "child process exited while command was running")
	case <-timeoutCh:
		s.finishCommand(cmd.ID, types.CommandFailed, nil, "command timed out")
	case <-stop:
	}
}

// drainStaleSignal discards a pending signal left over from before this
// command was dispatched, so the next receive only observes a sentinel
// match that happens while this command is actually running.
func drainStaleSignal(ch <-chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func (s *Supervisor) finishCommand(commandID string, state types.CommandState, exitCode *int, errMsg string) {
	s.mu.Lock()
	s.current = nil
	s.interruptSig = nil
	s.mu.Unlock()

	s.setState(types.AgentStatusReady)
	if s.status != nil {
		s.status.OnCommandComplete(commandID, state, exitCode, errMsg)
	}
}

func (s *Supervisor) setState(state types.AgentStatus) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed && s.status != nil {
		s.status.OnStatus(state)
	}
}

// restartBackoff returns the delay before restart attempt n (1-indexed):
// 1s, 2s, 4s, ... capped at 30s, matching the reconnection submodule's
// growth rate.
func restartBackoff(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}
