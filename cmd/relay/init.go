// ABOUTME: Interactive config generator for the relay server
// ABOUTME: Prompts for listeners, API key, storage, namespaces, and writes gateway.yaml

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit() error {
	return runInitWith(os.Stdin, os.Stdout)
}

func runInitWith(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	ask := func(question, defaultVal string) string {
		return prompt(reader, out, question, defaultVal)
	}

	fmt.Fprintln(out, "relay-gateway configuration setup")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out)

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "relay.db")

	// Output filename
	outputFile := ask("Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(ask("File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Fprintln(out, "\n--- Server Configuration ---")
	grpcAddr := ask("gRPC address", "localhost:10000")
	httpAddr := ask("HTTP address", "localhost:8000")
	httpAPI := isYes(ask("Enable HTTP server API?", "yes"))

	// API key
	fmt.Fprintln(out, "\n--- Server API Key ---")
	generated, err := generateAPIKey()
	if err != nil {
		return err
	}
	apiKey := ask("API key (\"none\" disables authorization)", generated)
	if strings.EqualFold(apiKey, "none") {
		apiKey = ""
	}

	// Database
	fmt.Fprintln(out, "\n--- History Configuration ---")
	dbPath := ask("SQLite database path", defaultDbPath)
	historySize, err := strconv.Atoi(ask("History size for channels without a namespace (0 disables)", "0"))
	if err != nil || historySize < 0 {
		return fmt.Errorf("history size must be a non-negative integer")
	}
	historyTTL := ""
	if historySize > 0 {
		historyTTL = ask("History TTL", "24h")
	}

	// Namespaces
	var namespaces []string
	if isYes(ask("Add a namespace?", "no")) {
		for {
			name := ask("Namespace name", "chat")
			size := ask("  history size", "100")
			ttl := ask("  history ttl", "1h")
			presence := isYes(ask("  enable presence?", "yes"))
			namespaces = append(namespaces, fmt.Sprintf(
				"  - name: %q\n    history_size: %s\n    history_ttl: %q\n    presence: %t\n",
				name, size, ttl, presence))
			if !isYes(ask("Add another namespace?", "no")) {
				break
			}
		}
	}

	// Tailscale
	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(ask("Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = ask("Tailscale hostname", "relay")
		tsAuthKey = ask("Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = isYes(ask("Ephemeral node?", "no"))
		tsFunnel = isYes(ask("Enable Funnel (public HTTPS)?", "no"))
	}

	// Logging
	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := ask("Log level (debug/info/warn/error)", "info")
	logFormat := ask("Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# relay-gateway configuration\n")
	cfg.WriteString("# Generated by relay init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  grpc_addr: %q\n", grpcAddr)
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("grpc_api:\n")
	cfg.WriteString("  enabled: true\n")
	fmt.Fprintf(&cfg, "  key: %q\n\n", apiKey)

	cfg.WriteString("http_api:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n\n", httpAPI)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("history:\n")
	fmt.Fprintf(&cfg, "  size: %d\n", historySize)
	if historyTTL != "" {
		fmt.Fprintf(&cfg, "  ttl: %q\n", historyTTL)
	}
	cfg.WriteString("\n")

	if len(namespaces) > 0 {
		cfg.WriteString("namespaces:\n")
		for _, ns := range namespaces {
			cfg.WriteString(ns)
		}
		cfg.WriteString("\n")
	}

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file may hold the API key, so keep it private.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  relay serve")

	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
