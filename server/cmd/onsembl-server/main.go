package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/onsembl/onsembl/server/internal/agentdirectory"
	"github.com/onsembl/onsembl/server/internal/api"
	"github.com/onsembl/onsembl/server/internal/audit"
	"github.com/onsembl/onsembl/server/internal/auth"
	"github.com/onsembl/onsembl/server/internal/db"
	"github.com/onsembl/onsembl/server/internal/hub"
	"github.com/onsembl/onsembl/server/internal/metrics"
	"github.com/onsembl/onsembl/server/internal/router"
	"github.com/onsembl/onsembl/shared/protocol"
	"github.com/onsembl/onsembl/shared/types"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr          string
	dbDriver          string
	dbDSN             string
	secretKey         string
	logLevel          string
	dataDir           string
	secureCookies     bool
	heartbeatInterval time.Duration
	auditRetention    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "onsembl-server",
		Short: "onsembl-server — the Onsembl control plane",
		Long: `onsembl-server is the central control plane of the Onsembl system.
It terminates the WebSocket control bus for agent wrappers and operator
dashboards, queues and dispatches commands, and records an audit trail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("ONSEMBL_HTTP_ADDR", ":8080"), "HTTP and WebSocket listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("ONSEMBL_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("ONSEMBL_DB_DSN", "./onsembl.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("ONSEMBL_SECRET_KEY", ""), "Master secret key for encrypting credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("ONSEMBL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("ONSEMBL_DATA_DIR", "./data"), "Directory for server data (RSA keys, etc.)")
	root.PersistentFlags().BoolVar(&cfg.secureCookies, "secure-cookies", envOrDefault("ONSEMBL_SECURE_COOKIES", "false") == "true", "Set Secure flag on auth cookies (enable in production over HTTPS)")
	root.PersistentFlags().DurationVar(&cfg.heartbeatInterval, "heartbeat-interval", 30*time.Second, "Expected agent heartbeat cadence; agents silent for 3x this are marked offline")
	root.PersistentFlags().DurationVar(&cfg.auditRetention, "audit-retention", audit.DefaultRetention, "How long audit entries are retained before the sweep reclaims them")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("onsembl-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or ONSEMBL_SECRET_KEY")
	}

	logger.Info("starting onsembl server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must be called before opening the database so that
	// EncryptedString fields (the OIDC client secret) can encrypt/decrypt
	// transparently on read/write. The secret key is padded or truncated to
	// exactly 32 bytes (AES-256).
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories and directory ---
	userRepo := auth.NewUserRepository(gormDB)
	refreshTokenRepo := auth.NewRefreshTokenRepository(gormDB)
	oidcProviderRepo := auth.NewOIDCProviderRepository(gormDB)
	directory := agentdirectory.New(gormDB)

	// --- 4. Auth ---
	// In development (no data dir or missing key files), ephemeral keys are
	// generated in memory. In production, persistent PEM files are used so
	// tokens survive server restarts.
	jwtManager, err := buildJWTManager(cfg.dataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	localProvider := auth.NewLocalProvider(userRepo, refreshTokenRepo, jwtManager)
	oidcVerifier := auth.NewOIDCVerifier(oidcProviderRepo, userRepo, refreshTokenRepo, jwtManager)
	authService := auth.NewAuthService(localProvider, oidcVerifier, refreshTokenRepo, jwtManager)

	// --- 5. Audit funnel ---
	funnel := audit.New(gormDB, logger, 256,
		audit.WithRetention(cfg.auditRetention),
		audit.WithOnWrite(func() { metrics.AuditWrites.WithLabelValues("all").Inc() }),
	)
	go funnel.Run(ctx)

	retentionSweep, err := audit.NewSweeper(funnel, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit retention sweep: %w", err)
	}
	if err := retentionSweep.Start(); err != nil {
		return fmt.Errorf("failed to start audit retention sweep: %w", err)
	}
	defer func() {
		if err := retentionSweep.Stop(); err != nil {
			logger.Warn("audit retention sweep shutdown error", zap.Error(err))
		}
	}()

	// --- 6. Connection manager and command router ---
	// The hub is constructed before the router since the router takes it as
	// its Sender; the router is then wired back in as the hub's frame
	// handler once it exists.
	connectionHub := hub.New(logger, nil)
	cmdRouter := router.New(logger, connectionHub, directory, funnel)
	connectionHub.SetHandler(cmdRouter)

	hubDone := make(chan struct{})
	go func() {
		connectionHub.Run(ctx.Done())
		close(hubDone)
	}()

	// --- 7. Heartbeat sweep ---
	// A missed heartbeat marks the agent offline in the directory and
	// broadcasts agent:status so dashboards reflect it without waiting for
	// the next agent:list poll.
	heartbeatSweep, err := audit.NewHeartbeatSweeper(directory, cfg.heartbeatInterval, func(agentID uuid.UUID) {
		broadcastAgentOffline(connectionHub, agentID)
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create heartbeat sweep: %w", err)
	}
	if err := heartbeatSweep.Start(); err != nil {
		return fmt.Errorf("failed to start heartbeat sweep: %w", err)
	}
	defer func() {
		if err := heartbeatSweep.Stop(); err != nil {
			logger.Warn("heartbeat sweep shutdown error", zap.Error(err))
		}
	}()

	// --- 8. HTTP server ---
	httpHandler := api.NewRouter(api.RouterConfig{
		AuthService:   authService,
		Hub:           connectionHub,
		Router:        cmdRouter,
		Directory:     directory,
		OIDCProviders: oidcProviderRepo,
		Logger:        logger,
		Secure:        cfg.secureCookies,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down onsembl server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	// Drain in-flight commands into failed{shutdown} before the hub tears
	// down connections, so they're recorded distinctly from an ordinary
	// transport drop rather than racing HandleDisconnect("transport").
	cmdRouter.Shutdown(shutdownCtx)

	// The hub's own Run loop closes every live connection once ctx is
	// cancelled; wait for that teardown (and the funnel's final flush,
	// triggered by the same ctx) before exiting.
	<-hubDone
	funnel.Wait()

	logger.Info("onsembl server stopped")
	return nil
}

// broadcastAgentOffline notifies every dashboard that agentID went offline
// due to a missed heartbeat, outside of any ordinary disconnect path.
func broadcastAgentOffline(h *hub.Hub, agentID uuid.UUID) {
	frame, err := protocol.NewFrame(protocol.TypeAgentStatus, uuid.NewString(), time.Now(), protocol.AgentStatusPayload{
		AgentID: agentID.String(),
		Status:  types.AgentStatusOffline,
	})
	if err != nil {
		return
	}
	h.BroadcastToDashboards(nil, frame, "")
}

// buildJWTManager loads RSA keys from the data directory if available,
// or generates ephemeral in-memory keys for development.
func buildJWTManager(dataDir string, logger *zap.Logger) (*auth.JWTManager, error) {
	privPath := filepath.Join(dataDir, "jwt_private.pem")
	pubPath := filepath.Join(dataDir, "jwt_public.pem")

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading JWT keys from disk", zap.String("private", privPath))
		return auth.NewJWTManagerFromFiles(privPath, pubPath, "onsembl-server")
	}

	logger.Warn("JWT key files not found — using ephemeral in-memory keys (tokens will be invalidated on restart)",
		zap.String("expected_private", privPath),
	)
	return auth.NewJWTManagerGenerated("onsembl-server")
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
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
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
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
