// ABOUTME: Entry point for the multi-agent conversation engine
// ABOUTME: Wires config, stores, ledger, and agents; serves a local chat loop

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/rcs/ollama-discord/internal/config"
	"github.com/rcs/ollama-discord/internal/engine"
	"github.com/rcs/ollama-discord/internal/notify"
	"github.com/rcs/ollama-discord/internal/orchestrator"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _ _                                 _ _                       _
  ___ | | | __ _ _ __ ___   __ _        __| (_)___  ___ ___  _ __ __| |
 / _ \| | |/ _' | '_ ' _ \ / _' |_____ / _' | / __|/ __/ _ \| '__/ _' |
| (_) | | | (_| | | | | | | (_| |_____| (_| | \__ \ (_| (_) | | | (_| |
 \___/|_|_|\__,_|_| |_| |_|\__,_|      \__,_|_|___/\___\___/|_|  \__,_|
`

// getConfigPath returns the path to the config file.
// Priority: OLLAMA_DISCORD_CONFIG env var > XDG_CONFIG_HOME/ollama-discord/config.yaml > ~/.config/ollama-discord/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OLLAMA_DISCORD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ollama-discord", "config.yaml")
}

func main() {
	// A .env beside the binary can hold values for ${VAR} config expansion.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: ollama-discord <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the agents and chat on stdin")
		fmt.Println("  init                        Create a starter config and persona")
		fmt.Println("  export AGENT CHANNEL USER   Print one conversation (json|txt)")
		fmt.Println("  cleanup [DURATION]          Remove conversations older than DURATION")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "export":
		err = runExport(ctx)
	case "cleanup":
		err = runCleanup(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Storage: %s\n", cfg.Global.Storage.Backend)
	for _, a := range cfg.EnabledAgents() {
		green.Print("    ▶ ")
		fmt.Printf("Agent:   %s  (channels: %s)\n", a.Name, strings.Join(a.Channels, ", "))
	}
	fmt.Println()

	logger.Info("starting ollama-discord",
		"config", configPath,
		"agents", len(cfg.EnabledAgents()),
		"backend", cfg.Global.Storage.Backend,
	)

	eng, err := engine.New(cfg, notify.NewConsole(os.Stdout, 0), logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer eng.Close()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("engine stopped", "error", err)
		}
	}()

	channel := "general"
	user := os.Getenv("USER")
	if user == "" {
		user = "local"
	}

	gray.Printf("    chatting as %s in #%s (type a message, /channel NAME to switch, ctrl-d to quit)\n\n", user, channel)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if after, ok := strings.CutPrefix(line, "/channel "); ok {
			channel = strings.TrimSpace(after)
			gray.Printf("    now in #%s\n", channel)
			continue
		}

		eng.Dispatch(ctx, orchestrator.InboundMessage{
			MessageID:   uuid.New().String(),
			ChannelID:   channel,
			ChannelName: channel,
			UserID:      user,
			Username:    user,
			Content:     line,
		})

		if ctx.Err() != nil {
			break
		}
	}

	eng.Wait()
	return scanner.Err()
}

func runInit() error {
	configPath := getConfigPath()
	configDir := filepath.Dir(configPath)
	personaPath := filepath.Join(configDir, "personas", "sage.toml")

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Join(configDir, "personas"), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configContent := fmt.Sprintf(`# ollama-discord configuration
# Generated by ollama-discord init

agents:
  - name: sage
    persona_file: %q
    channels: ["general", "dev-*"]

global:
  max_concurrent_responses: 1
  cooldown_period: "30s"
  response_delay: "1-3"
  max_history: 50
  context_depth: 20
  session_timeout: "30m"
  retention: "168h"
  storage:
    backend: file
    data_dir: %q

logging:
  level: "info"
  format: "text"
`, personaPath, filepath.Join(configDir, "conversations"))

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	personaContent := `system_prompt = "You are sage, a thoughtful assistant who keeps answers short."
model = "llama3"
base_url = "http://localhost:11434"
request_timeout = "2m"
`
	if err := os.WriteFile(personaPath, []byte(personaContent), 0644); err != nil {
		return fmt.Errorf("writing persona file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config:  %s\n", configPath)
	green.Printf("  ✓ Created persona: %s\n", personaPath)
	fmt.Println("\nTo start:")
	fmt.Println("  ollama-discord serve")
	return nil
}

func runExport(ctx context.Context) error {
	args := os.Args[2:]
	if len(args) < 3 {
		return fmt.Errorf("usage: ollama-discord export AGENT CHANNEL USER [json|txt]")
	}
	agent, channel, user := args[0], args[1], args[2]
	format := "txt"
	if len(args) > 3 {
		format = args[3]
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := engine.NewStore(cfg, agent, slog.Default())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	out, err := store.Export(ctx, channel, user, format)
	if err != nil {
		return fmt.Errorf("exporting conversation: %w", err)
	}

	fmt.Println(out)
	return nil
}

func runCleanup(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	olderThan := cfg.Global.Retention
	if len(os.Args) > 2 {
		olderThan, err = time.ParseDuration(os.Args[2])
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", os.Args[2], err)
		}
	}

	green := color.New(color.FgGreen)
	for _, a := range cfg.EnabledAgents() {
		store, err := engine.NewStore(cfg, a.Name, slog.Default())
		if err != nil {
			return fmt.Errorf("agent %q: opening store: %w", a.Name, err)
		}

		removed, err := store.Cleanup(ctx, olderThan)
		store.Close()
		if err != nil {
			return fmt.Errorf("agent %q: cleanup: %w", a.Name, err)
		}

		green.Printf("  ✓ %s: removed %d conversation(s)\n", a.Name, removed)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}
