// ABOUTME: Interactive config file generation for endobot init
// ABOUTME: Prompts for the listener, store, workflow and logging settings and writes YAML

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomifer13/EndoBot/internal/config"
)

// getDataPath returns the path to the endobot data directory.
// Priority: XDG_DATA_HOME/endobot > ~/.local/share/endobot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "endobot")
}

// initAnswers are the values collected by runInit.
type initAnswers struct {
	HTTPAddr   string
	DBPath     string
	WorkflowID string
	Mode       string
	LogLevel   string
	LogFormat  string
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("endobot configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "endobot.db"))

	fmt.Println("\n--- Workflow Configuration ---")
	a.WorkflowID = prompt(reader, "Workflow id (or set OPENAI_WORKFLOW_ID)", "")
	a.Mode = prompt(reader, "Reply mode (stream/complete)", "stream")

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nSet OPENAI_API_KEY, then start the server:")
	fmt.Println("  endobot serve")

	return nil
}

// renderConfig writes the YAML for a. The api key is always read from the
// environment so it never lands on disk.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# endobot configuration\n")
	cfg.WriteString("# Generated by endobot init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", a.HTTPAddr)

	cfg.WriteString("database:\n")
	cfg.WriteString("  driver: \"sqlite\"\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", a.DBPath)

	cfg.WriteString("upstream:\n")
	cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	fmt.Fprintf(&cfg, "  workflow_id: %q\n", a.WorkflowID)
	fmt.Fprintf(&cfg, "  mode: %q\n", a.Mode)
	cfg.WriteString("  request_timeout: \"60s\"\n")
	cfg.WriteString("  idle_timeout: \"60s\"\n")
	cfg.WriteString("  heartbeat_policy: \"reset\"\n")
	cfg.WriteString("  history_limit: 30\n\n")

	cfg.WriteString("session:\n")
	fmt.Fprintf(&cfg, "  cookie_name: %q\n", config.DefaultCookieName)
	cfg.WriteString("  max_age: \"720h\"\n\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", a.LogFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
