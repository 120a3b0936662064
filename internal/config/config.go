package config

import "github.com/spf13/viper"

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for the relay.
type Config struct {
	Port           int
	StateDir       string
	ClaudeBinary   string
	DefaultModel   string
	DefaultCWD     string
	NamingModel    string
	MCPConfig      string
	BaseURL        string
	AllowedOrigins string
	DeniedTools    string
	BufferLimit    int
	ProcessedLimit int
	HistoryLimit   int
	SaveDebounceMS int
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/clauderelay).
func Load() Config {
	return Config{
		Port:           viper.GetInt("port"),
		StateDir:       viper.GetString("state_dir"),
		ClaudeBinary:   viper.GetString("claude_binary"),
		DefaultModel:   viper.GetString("default_model"),
		DefaultCWD:     viper.GetString("default_cwd"),
		NamingModel:    viper.GetString("naming_model"),
		MCPConfig:      viper.GetString("mcp_config"),
		BaseURL:        viper.GetString("base_url"),
		AllowedOrigins: viper.GetString("allowed_origins"),
		DeniedTools:    viper.GetString("denied_tools"),
		BufferLimit:    viper.GetInt("buffer_limit"),
		ProcessedLimit: viper.GetInt("processed_limit"),
		HistoryLimit:   viper.GetInt("history_limit"),
		SaveDebounceMS: viper.GetInt("save_debounce_ms"),
	}
}
