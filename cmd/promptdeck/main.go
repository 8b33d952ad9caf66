// Command promptdeck runs the prompt execution server.
//
// Usage:
//
//	promptdeck                     start the server
//	promptdeck token <workspace>   issue a workspace bearer token
//
// Workspace tokens are issued out-of-band via the token subcommand;
// there is no HTTP endpoint that mints them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/promptdeck/promptdeck"
	"github.com/promptdeck/promptdeck/internal/auth"
	"github.com/promptdeck/promptdeck/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:]))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := promptdeck.New(
		promptdeck.WithLogger(logger),
		promptdeck.WithVersion(version),
	)
	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	switch os.Getenv("PROMPTDECK_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runToken issues a workspace bearer token without starting the server.
// It needs only the JWT settings from config, not a database.
func runToken(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: promptdeck token <workspace-uuid> [subject]")
		return 2
	}

	workspaceID, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid workspace id: %v\n", err)
		return 2
	}
	subject := "cli"
	if len(args) > 1 {
		subject = args[1]
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auth: %v\n", err)
		return 1
	}

	token, expiresAt, err := jwtMgr.IssueToken(workspaceID, subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		return 1
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
	return 0
}
