package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/claude-relay/internal/bridge"
	"github.com/joestump/claude-relay/internal/config"
	"github.com/joestump/claude-relay/internal/gitinfo"
	"github.com/joestump/claude-relay/internal/launcher"
	"github.com/joestump/claude-relay/internal/mcpserver"
	"github.com/joestump/claude-relay/internal/naming"
	"github.com/joestump/claude-relay/internal/plugins"
	"github.com/joestump/claude-relay/internal/store"
	"github.com/joestump/claude-relay/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clauderelay",
		Short: "Session relay between browsers and interactive Claude CLI processes",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.Int("port", 8600, "HTTP port for the API, dashboard, and WebSockets")
	f.String("state-dir", "./state", "directory for persistent state")
	f.String("claude-binary", "claude", "path to the claude CLI binary")
	f.String("default-model", "", "default model for new sessions")
	f.String("default-cwd", "", "working directory for sessions without one")
	f.String("naming-model", "claude-3-5-haiku-latest", "model for session auto-naming")
	f.String("mcp-config", "", "path to the global MCP config file")
	f.String("allowed-origins", "", "comma-separated allowed WebSocket origins (empty allows all)")
	f.String("denied-tools", "", "comma-separated tool names to auto-deny")
	f.Int("buffer-limit", 0, "replay buffer size per session (0 = default)")
	f.Int("processed-limit", 0, "processed client message id cap (0 = default)")
	f.Int("history-limit", 0, "transcript soft cap per session (0 = default)")
	f.Int("save-debounce-ms", 500, "save coalescing window in milliseconds")

	// Bind flags to viper. Viper keys use underscores (state_dir) so they
	// match the env var suffix after stripping the CLAUDERELAY_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("port", "port")
	bindFlag("state_dir", "state-dir")
	bindFlag("claude_binary", "claude-binary")
	bindFlag("default_model", "default-model")
	bindFlag("default_cwd", "default-cwd")
	bindFlag("naming_model", "naming-model")
	bindFlag("mcp_config", "mcp-config")
	bindFlag("allowed_origins", "allowed-origins")
	bindFlag("denied_tools", "denied-tools")
	bindFlag("buffer_limit", "buffer-limit")
	bindFlag("processed_limit", "processed-limit")
	bindFlag("history_limit", "history-limit")
	bindFlag("save_debounce_ms", "save-debounce-ms")

	viper.SetEnvPrefix("CLAUDERELAY")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP stdio server exposing relay sessions as tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return mcpserver.Run(viper.GetString("base_url"))
		},
	}
	mcpCmd.Flags().String("base-url", "", "relay API base URL (default http://127.0.0.1:8600)")
	_ = viper.BindPFlag("base_url", mcpCmd.Flags().Lookup("base-url"))
	rootCmd.AddCommand(mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	fmt.Printf("Claude Relay %s starting\n", config.Version)
	fmt.Printf("  Port: :%d\n", cfg.Port)
	fmt.Printf("  State: %s\n", cfg.StateDir)
	fmt.Printf("  Claude binary: %s\n", cfg.ClaudeBinary)
	if cfg.DefaultModel != "" {
		fmt.Printf("  Default model: %s\n", cfg.DefaultModel)
	}
	fmt.Println()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	db, err := store.Open(filepath.Join(cfg.StateDir, "clauderelay.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close() //nolint:errcheck
	if cfg.SaveDebounceMS >= 0 {
		db.SetDebounce(time.Duration(cfg.SaveDebounceMS) * time.Millisecond)
	}

	chain := plugins.NewChain()
	if cfg.DeniedTools != "" {
		var denied []string
		for _, name := range strings.Split(cfg.DeniedTools, ",") {
			if name = strings.TrimSpace(name); name != "" {
				denied = append(denied, name)
			}
		}
		chain.Register(plugins.NewToolPolicy(denied))
	}

	reg := bridge.NewRegistry(db, chain, gitinfo.New(), bridge.Options{
		EventBufferLimit: cfg.BufferLimit,
		ProcessedIDLimit: cfg.ProcessedLimit,
		HistoryLimit:     cfg.HistoryLimit,
	})

	l := launcher.New(launcher.Config{
		Model:         cfg.DefaultModel,
		DefaultCWD:    cfg.DefaultCWD,
		MCPConfigPath: cfg.MCPConfig,
	}, reg, &launcher.CLIRunner{Binary: cfg.ClaudeBinary})
	reg.RegisterRelaunchCallback(l.Launch)
	reg.RegisterCLISessionIDCallback(l.RememberCLISessionID)

	namer := naming.New(cfg.NamingModel)
	reg.RegisterFirstTurnCallback(func(sessionID, firstUserText string) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		name, err := namer.Name(ctx, firstUserText)
		if err != nil {
			log.Printf("auto-naming session %s: %v", sessionID, err)
			return
		}
		reg.SetSessionName(sessionID, name)
	})

	if err := reg.RestoreFromDisk(); err != nil {
		log.Printf("restore sessions: %v", err)
	}

	webServer := web.New(cfg, reg, l)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Printf("web server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received %s, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("web server shutdown: %v", err)
	}

	l.StopAll()
	reg.CloseAll()
	db.Flush()

	return nil
}
