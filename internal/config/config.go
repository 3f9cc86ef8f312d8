// Package config loads ictchat settings from a JSON or YAML file, a .env file
// and ICTCHAT_* environment variables, in that order of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const appName = "ictchat"

// Config represents application configuration
type Config struct {
	APIBaseURL string `json:"api_base_url" yaml:"api_base_url"`
	VerifyURL  string `json:"verify_url" yaml:"verify_url"`
	LoginURL   string `json:"login_url" yaml:"login_url"`
	SocketURL  string `json:"socket_url" yaml:"socket_url"`

	StatePath string `json:"state_path" yaml:"state_path"` // sqlite database holding the persisted token
	TokenFile string `json:"token_file" yaml:"token_file"` // hand-off file watched for a replacement token

	LogLevel string `json:"log_level" yaml:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"log_path" yaml:"log_path"`

	SearchDebounceMS      int     `json:"search_debounce_ms" yaml:"search_debounce_ms"`
	DedupWindowMS         int     `json:"dedup_window_ms" yaml:"dedup_window_ms"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	RequestsPerSecond     float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Timezone              string  `json:"timezone" yaml:"timezone"`

	BridgeAddr string `json:"bridge_addr" yaml:"bridge_addr"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		APIBaseURL:            "https://auth.agkit.in",
		VerifyURL:             "https://auth.agkit.in/verify",
		LoginURL:              "https://auth.agkit.in/login",
		SocketURL:             "wss://auth.agkit.in/ws",
		StatePath:             filepath.Join(stateDir, "state.db"),
		TokenFile:             filepath.Join(stateDir, "token"),
		LogLevel:              "info",
		LogPath:               filepath.Join(stateDir, appName+".log"),
		SearchDebounceMS:      400,
		DedupWindowMS:         2000,
		RequestTimeoutSeconds: 15,
		RequestsPerSecond:     5,
		Timezone:              "Asia/Kolkata",
		BridgeAddr:            "127.0.0.1:7420",
	}
}

// Load loads configuration from path. A missing file yields the defaults.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	config.fillDefaults()
	return config, nil
}

// LoadWithEnv loads path, then the .env file in the working directory (if
// any), then applies ICTCHAT_* overrides from the process environment.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	_ = godotenv.Load(".env")
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from ICTCHAT_* variables resolved through lookup.
// Malformed numeric values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("ICTCHAT_API_BASE_URL", &c.APIBaseURL)
	str("ICTCHAT_VERIFY_URL", &c.VerifyURL)
	str("ICTCHAT_LOGIN_URL", &c.LoginURL)
	str("ICTCHAT_SOCKET_URL", &c.SocketURL)
	str("ICTCHAT_STATE_PATH", &c.StatePath)
	str("ICTCHAT_TOKEN_FILE", &c.TokenFile)
	str("ICTCHAT_LOG_LEVEL", &c.LogLevel)
	str("ICTCHAT_LOG_PATH", &c.LogPath)
	str("ICTCHAT_TIMEZONE", &c.Timezone)
	str("ICTCHAT_BRIDGE_ADDR", &c.BridgeAddr)
	num("ICTCHAT_DEDUP_WINDOW_MS", &c.DedupWindowMS)
	num("ICTCHAT_REQUEST_TIMEOUT_SECONDS", &c.RequestTimeoutSeconds)
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	if c.VerifyURL == "" {
		c.VerifyURL = def.VerifyURL
	}
	if c.LoginURL == "" {
		c.LoginURL = def.LoginURL
	}
	if c.SocketURL == "" {
		c.SocketURL = def.SocketURL
	}
	if c.StatePath == "" {
		c.StatePath = def.StatePath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
	if c.SearchDebounceMS <= 0 {
		c.SearchDebounceMS = def.SearchDebounceMS
	}
	if c.DedupWindowMS <= 0 {
		c.DedupWindowMS = def.DedupWindowMS
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = def.RequestTimeoutSeconds
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.BridgeAddr == "" {
		c.BridgeAddr = def.BridgeAddr
	}
}

// SearchDebounce returns the user-search debounce interval.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}

// DedupWindow returns the tolerance of the message dedup predicate.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMS) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Save saves configuration to file in the format implied by its extension.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
