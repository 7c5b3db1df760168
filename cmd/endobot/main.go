// ABOUTME: Entry point for the endobot chat gateway
// ABOUTME: Dispatches the serve, init, health and token commands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/tomifer13/EndoBot/internal/auth"
	"github.com/tomifer13/EndoBot/internal/config"
	"github.com/tomifer13/EndoBot/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _       _           _
   ___ _ __   __| | ___ | |__   ___ | |_
  / _ \ '_ \ / _' |/ _ \| '_ \ / _ \| __|
 |  __/ | | | (_| | (_) | |_) | (_) | |_
  \___|_| |_|\__,_|\___/|_.__/ \___/ \__|
`

func usage() {
	fmt.Println("Usage: endobot <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the chat gateway")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  health                 Check gateway health")
	fmt.Println("  token --sub NAME       Mint an API token for the configured secret")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s", cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite" {
		gray.Printf(" (%s)", cfg.Database.Path)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Workflow:  ")
	if cfg.Upstream.WorkflowID != "" {
		cyan.Print(cfg.Upstream.WorkflowID)
		gray.Printf(" [%s]", cfg.Upstream.Mode)
	} else {
		yellow.Print("not configured")
	}
	fmt.Println()
	if cfg.Notify.NATSURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("NATS:      %s\n", cfg.Notify.NATSURL)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Auth:      session cookies (no jwt_secret)")
	}

	fmt.Println()

	logger.Info("starting endobot",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	// Create and run gateway
	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// healthURL turns a listen address into a URL a local client can reach.
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/health", addr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/health", net.JoinHostPort(host, port))
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Make HTTP request to health endpoint with context
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "subject (owner id) the token identifies")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return errors.New("--sub is required")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := mintToken(cfg.Auth.JWTSecret, *sub, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func mintToken(secret, subject string, ttl time.Duration) (string, error) {
	v, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := v.Generate(subject, ttl)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}
