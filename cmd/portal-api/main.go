// ABOUTME: Entry point for the portal-api authentication server
// ABOUTME: Serves login/logout/verify endpoints and the admin listings

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/addyya/portalgate/internal/api"
	"github.com/addyya/portalgate/internal/auth"
	"github.com/addyya/portalgate/internal/config"
	"github.com/addyya/portalgate/internal/logging"
	"github.com/addyya/portalgate/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hashpw" {
		if err := runHashPw(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	addr := flag.String("addr", "", "listen address (overrides config)")
	configPath := flag.String("config", os.Getenv("PORTALGATE_CONFIG"), "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, configPath string) error {
	gray := color.New(color.FgHiBlack)
	gray.Printf("portal-api version: %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr != "" {
		cfg.API.Addr = addr
	}

	logger := logging.Setup(cfg.Logging)

	creds, err := auth.LoadCredentials(cfg.Auth.CredentialsPath)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path, store.Options{
		PoolSize: cfg.Database.PoolSize,
		Lockout: store.LockoutPolicy{
			MaxAttempts:     cfg.Auth.MaxAttempts,
			FailureWindow:   cfg.Auth.FailureWindow,
			LockoutDuration: cfg.Auth.LockoutDuration,
		},
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	manager := auth.NewManager(st, creds, cfg.Auth.SessionDuration)

	if cfg.Auth.AdminSecret == "" {
		logger.Warn("no admin secret configured, admin endpoints disabled")
	}

	logger.Info("starting portal-api",
		"addr", cfg.API.Addr,
		"users", len(creds),
		"credentials", cfg.Auth.CredentialsPath,
	)

	srv := api.New(api.Config{
		Addr:        cfg.API.Addr,
		Manager:     manager,
		Store:       st,
		AdminSecret: cfg.Auth.AdminSecret,
	})
	return srv.Run(ctx)
}

// runHashPw reads a password from the terminal and prints the bcrypt hash
// for use in the credentials file.
func runHashPw() error {
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
