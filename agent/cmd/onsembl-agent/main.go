// Package main is the entry point for the onsembl-agent binary. It wires
// the supervisor, the control-plane client, and the credential store
// together and starts the supervise loop.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Open the credential store, requiring an API key stored earlier with
//     'auth login' (exit code 2 if none is stored; start itself has no
//     --api-key flag)
//  4. Build the control-plane client
//  5. Build the supervisor for the configured agent kind/command, with the
//     client as its output and status sink, and attach it to the client
//  6. Start the supervise loop and the control-plane session loop
//     concurrently
//  7. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/agent/internal/credential"
	"github.com/onsembl/onsembl/agent/internal/metrics"
	"github.com/onsembl/onsembl/agent/internal/supervisor"
	"github.com/onsembl/onsembl/agent/internal/wsclient"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

// Exit codes per the documented CLI contract.
const (
	exitOK                 = 0
	exitConfigError        = 1
	exitAuthRequired       = 2
	exitUnrecoverableConn  = 3
	exitChildExitedFatally = 4
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	serverURL   string
	apiKey      string
	stateDir    string
	agentType   string
	agentCmd    string
	agentArgs   []string
	workDir     string
	logLevel    string
	heartbeatMs int
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		return exitConfigError
	}
	return exitOK
}

// exitCoder lets a command's error carry a specific process exit code,
// distinguishing config errors from auth-required from unrecoverable
// transport failures.
type exitCoder interface {
	error
	ExitCode() int
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) ExitCode() int { return e.code }

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "onsembl-agent",
		Short: "Onsembl agent wrapper — supervises an interactive coding agent and bridges it to the control plane",
	}

	root.PersistentFlags().StringVar(&cfg.serverURL, "server-url", envOrDefault("ONSEMBL_SERVER_URL", "ws://localhost:8080"), "Control-plane server URL (ws/wss, or http/https to be upgraded)")
	root.PersistentFlags().StringVar(&cfg.stateDir, "state-dir", envOrDefault("ONSEMBL_STATE_DIR", defaultStateDir()), "Directory for credentials and persisted agent id")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("ONSEMBL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newAuthCmd(cfg))
	root.AddCommand(newStartCmd(cfg))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("onsembl-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newAuthCmd(cfg *config) *cobra.Command {
	auth := &cobra.Command{Use: "auth", Short: "Manage stored control-plane credentials"}

	login := &cobra.Command{
		Use:   "login",
		Short: "Store an API key in the local credential store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.apiKey == "" {
				return &codedError{fmt.Errorf("--api-key is required"), exitConfigError}
			}
			store, err := credential.Open(cfg.stateDir)
			if err != nil {
				return &codedError{fmt.Errorf("open credential store: %w", err), exitConfigError}
			}
			if err := store.SetAPIKey(cfg.apiKey); err != nil {
				return &codedError{fmt.Errorf("store api key: %w", err), exitConfigError}
			}
			fmt.Println("credential stored")
			return nil
		},
	}
	login.Flags().StringVar(&cfg.apiKey, "api-key", "", "API key issued by the onsembl server")

	auth.AddCommand(login)
	return auth
}

func newStartCmd(cfg *config) *cobra.Command {
	start := &cobra.Command{
		Use:   "start",
		Short: "Start supervising the configured agent process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	start.Flags().StringVar(&cfg.agentType, "type", envOrDefault("ONSEMBL_AGENT_TYPE", "custom"), "Agent kind: claude, gemini, codex, or custom")
	start.Flags().StringVar(&cfg.agentCmd, "command", envOrDefault("ONSEMBL_AGENT_COMMAND", ""), "Executable to supervise (required)")
	start.Flags().StringSliceVar(&cfg.agentArgs, "arg", nil, "Argument to pass to the supervised command (repeatable)")
	start.Flags().StringVar(&cfg.workDir, "working-directory", envOrDefault("ONSEMBL_WORKING_DIR", "."), "Working directory for the supervised command")
	start.Flags().IntVar(&cfg.heartbeatMs, "heartbeat-interval", 30000, "Heartbeat interval in milliseconds")

	return start
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return &codedError{fmt.Errorf("build logger: %w", err), exitConfigError}
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.agentCmd == "" {
		return &codedError{fmt.Errorf("--command is required"), exitConfigError}
	}
	agentKind, err := parseAgentKind(cfg.agentType)
	if err != nil {
		return &codedError{err, exitConfigError}
	}

	creds, err := credential.Open(cfg.stateDir)
	if err != nil {
		return &codedError{fmt.Errorf("open credential store: %w", err), exitConfigError}
	}
	if _, err := creds.APIKey(); err != nil {
		return &codedError{fmt.Errorf("no stored credential — run 'onsembl-agent auth login --api-key <key>' first"), exitAuthRequired}
	}

	agentID := creds.AgentID()
	if agentID == "" {
		agentID = uuid.NewString()
		if err := creds.SetAgentID(agentID); err != nil {
			logger.Warn("failed to persist agent id", zap.Error(err))
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting onsembl agent",
		zap.String("version", version),
		zap.String("agentId", agentID),
		zap.String("type", string(agentKind)),
		zap.String("server", cfg.serverURL),
	)

	startedAt := time.Now()
	collector := metrics.New(startedAt)

	wsClient := wsclient.New(wsclient.Config{
		ServerURL: cfg.serverURL,
		AgentID:   agentID,
		AgentType: agentKind,
		Version:   version,
		Capabilities: types.AgentCapabilities{
			SupportsInterrupt: true,
			SupportsTrace:     false,
		},
		HeartbeatInterval: time.Duration(cfg.heartbeatMs) * time.Millisecond,
	}, creds, nil, logger)

	super := supervisor.New(supervisor.Config{
		Kind:    agentKind,
		Command: cfg.agentCmd,
		Args:    cfg.agentArgs,
		WorkDir: cfg.workDir,
		Env:     os.Environ(),
	}, wsClient, wsClient, logger)

	wsClient.AttachSupervisor(super)

	done := make(chan struct{})
	go func() {
		super.Run(ctx)
		close(done)
	}()

	err = wsClient.Run(ctx, func() protocol.HealthMetrics {
		return collector.Collect(context.Background())
	})

	super.Stop(context.Background())
	<-done

	logger.Info("onsembl agent stopped")
	if err != nil {
		return &codedError{err, exitUnrecoverableConn}
	}
	return nil
}

func parseAgentKind(s string) (types.AgentKind, error) {
	switch types.AgentKind(s) {
	case types.AgentKindClaude, types.AgentKindGemini, types.AgentKindCodex, types.AgentKindCustom:
		return types.AgentKind(s), nil
	default:
		return "", fmt.Errorf("--type must be one of claude, gemini, codex, custom (got %q)", s)
	}
}

// defaultStateDir returns the platform-appropriate default state directory.
func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.onsembl"
	}
	return ".onsembl"
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
