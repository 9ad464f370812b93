// Package main implements a one-shot seed command that creates an operator
// account directly in the onsembl database, for bootstrapping the first
// admin login before any OIDC provider is configured.
//
// Usage (from the module root):
//
//	go run ./server/cmd/seed \
//	  --email admin@example.com \
//	  --password secret \
//	  --name "Admin" \
//	  --role admin
//
// Environment variables:
//
//	ONSEMBL_DB_DSN      SQLite file path or Postgres DSN (default: ./onsembl.db)
//	ONSEMBL_SECRET_KEY  Master encryption key — must match the value used by the server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/onsembl/onsembl/server/internal/auth"
	"github.com/onsembl/onsembl/server/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	email := flag.String("email", "", "Operator email (required)")
	password := flag.String("password", "", "Plain-text password (required)")
	name := flag.String("name", "Admin", "Display name")
	role := flag.String("role", "admin", "Role: admin or operator")
	flag.Parse()

	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}
	if *role != "admin" && *role != "operator" {
		return fmt.Errorf("--role must be 'admin' or 'operator'")
	}

	dsn := envOrDefault("ONSEMBL_DB_DSN", "./onsembl.db")

	secretKey := os.Getenv("ONSEMBL_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"ONSEMBL_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  OIDC client secret (if configured later) will be unreadable.",
		)
	}

	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userRepo := auth.NewUserRepository(database)

	user := &db.User{
		Email:        *email,
		DisplayName:  *name,
		PasswordHash: hashed,
		Role:         *role,
		IsActive:     true,
	}

	if err := userRepo.Create(context.Background(), user); err != nil {
		return fmt.Errorf("create user (email %q may already exist): %w", *email, err)
	}

	fmt.Printf("User created\n")
	fmt.Printf("  ID:    %s\n", user.ID)
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  Name:  %s\n", user.DisplayName)
	fmt.Printf("  Role:  %s\n", user.Role)

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
