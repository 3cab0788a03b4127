// Package clientconfig loads the client's runtime configuration: defaults,
// merged over by an optional yaml file, overridden last by environment
// variables.
package clientconfig

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	RelayURL    string
	DisplayName string
	DataDir     string
	InviteCode  string

	STUNServers     []string
	RingTimeout     time.Duration
	DisconnectGrace time.Duration
	CoalesceWindow  time.Duration

	TypingRPS   float64
	TypingBurst int

	LogLevel string
}

// FileConfig is the yaml shape. Pointer fields distinguish "absent" from a
// zero value.
type FileConfig struct {
	RelayURL    string `yaml:"relayUrl"`
	DisplayName string `yaml:"displayName"`
	DataDir     string `yaml:"dataDir"`
	InviteCode  string `yaml:"inviteCode"`

	STUNServers     []string      `yaml:"stunServers"`
	RingTimeout     time.Duration `yaml:"ringTimeout"`
	DisconnectGrace time.Duration `yaml:"disconnectGrace"`
	CoalesceWindow  time.Duration `yaml:"coalesceWindow"`

	TypingRPS   *float64 `yaml:"typingRps"`
	TypingBurst *int     `yaml:"typingBurst"`

	LogLevel string `yaml:"logLevel"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		RelayURL:        "wss://relay.humanity.chat/ws",
		DataDir:         home + "/.humanity",
		STUNServers:     []string{"stun:stun.l.google.com:19302"},
		RingTimeout:     30 * time.Second,
		DisconnectGrace: 3 * time.Second,
		CoalesceWindow:  2 * time.Second,
		TypingRPS:       2,
		TypingBurst:     4,
		LogLevel:        "info",
	}
}

// LoadFromPath resolves the configuration. A missing or unparseable file
// falls back to defaults; env overrides always apply last.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			cfg.DataDir+"/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src FileConfig) {
	if src.RelayURL != "" {
		dst.RelayURL = src.RelayURL
	}
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.InviteCode != "" {
		dst.InviteCode = src.InviteCode
	}
	if src.STUNServers != nil {
		dst.STUNServers = src.STUNServers
	}
	if src.RingTimeout != 0 {
		dst.RingTimeout = src.RingTimeout
	}
	if src.DisconnectGrace != 0 {
		dst.DisconnectGrace = src.DisconnectGrace
	}
	if src.CoalesceWindow != 0 {
		dst.CoalesceWindow = src.CoalesceWindow
	}
	if src.TypingRPS != nil {
		dst.TypingRPS = *src.TypingRPS
	}
	if src.TypingBurst != nil {
		dst.TypingBurst = *src.TypingBurst
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("HUMANITY_RELAY_URL")); v != "" {
		cfg.RelayURL = v
	}
	if v := strings.TrimSpace(os.Getenv("HUMANITY_DISPLAY_NAME")); v != "" {
		cfg.DisplayName = v
	}
	if v := strings.TrimSpace(os.Getenv("HUMANITY_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("HUMANITY_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
}
