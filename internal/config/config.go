package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the quotes bot.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Matrix   MatrixConfig   `json:"matrix" yaml:"matrix"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Bot      BotConfig      `json:"bot" yaml:"bot"`
	Imag     ImagConfig     `json:"imag" yaml:"imag"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
	// Debug restricts the bot to its home room on every transport.
	Debug bool `json:"debug" yaml:"debug"`
}

type MatrixConfig struct {
	Homeserver         string `json:"homeserver" yaml:"homeserver"`
	Token              string `json:"token" yaml:"token"`
	Room               string `json:"room" yaml:"room"` // room ID or alias joined at startup
	Autojoin           bool   `json:"autojoin" yaml:"autojoin"`
	SyncTimeoutSeconds int    `json:"syncTimeoutSeconds" yaml:"syncTimeoutSeconds"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	HomeChat  string         `json:"homeChat,omitempty" yaml:"homeChat,omitempty"`
	// Admin is the numeric user ID allowed to run admin commands on Telegram.
	Admin string `json:"admin,omitempty" yaml:"admin,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type BotConfig struct {
	Prefix           string `json:"prefix" yaml:"prefix"`
	Admin            string `json:"admin" yaml:"admin"`
	SourceURL        string `json:"sourceURL" yaml:"sourceURL"`
	CaptionMaxLength int    `json:"captionMaxLength" yaml:"captionMaxLength"`
	ScoreDefault     int    `json:"scoreDefault" yaml:"scoreDefault"`
	Concurrency      int    `json:"concurrency" yaml:"concurrency"` // repository calls in flight
}

type ImagConfig struct {
	BaseURL        string `json:"baseURL" yaml:"baseURL"`
	Key            string `json:"key" yaml:"key"`
	IDEndpoint     string `json:"idEndpoint" yaml:"idEndpoint"` // "count" | "latest"
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// StoreConfig configures the SQLite activity ledger.
type StoreConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

// MetricsConfig configures the Prometheus-style metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

// DefaultConfigDir returns the default config directory (~/.quotesbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quotesbot"
	}
	return filepath.Join(home, ".quotesbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads path with Read and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Read parses path over Defaults() without validating, for editing a
// config that is not complete yet.
func Read(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg to path, as YAML when the extension says so and as
// indented JSON otherwise.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file holds access tokens.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if err := checkURL(cfg.Matrix.Homeserver); err != nil {
		errs = append(errs, "matrix.homeserver "+err.Error())
	}
	if cfg.Matrix.Token == "" {
		errs = append(errs, "matrix.token is required")
	}
	if cfg.Matrix.Room != "" && !strings.HasPrefix(cfg.Matrix.Room, "!") && !strings.HasPrefix(cfg.Matrix.Room, "#") {
		errs = append(errs, "matrix.room must be a room ID (!) or alias (#)")
	}
	if cfg.Matrix.SyncTimeoutSeconds < 1 || cfg.Matrix.SyncTimeoutSeconds > 300 {
		errs = append(errs, "matrix.syncTimeoutSeconds must be between 1 and 300")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}

	if strings.TrimSpace(cfg.Bot.Prefix) == "" {
		errs = append(errs, "bot.prefix must not be empty")
	} else if strings.ContainsAny(cfg.Bot.Prefix, " \t\n") {
		errs = append(errs, "bot.prefix must not contain whitespace")
	}
	if cfg.Bot.CaptionMaxLength < 1 {
		errs = append(errs, "bot.captionMaxLength must be >= 1")
	}
	if cfg.Bot.ScoreDefault == 0 {
		errs = append(errs, "bot.scoreDefault must not be 0")
	}
	if cfg.Bot.Concurrency < 1 || cfg.Bot.Concurrency > 100 {
		errs = append(errs, "bot.concurrency must be between 1 and 100")
	}

	if err := checkURL(cfg.Imag.BaseURL); err != nil {
		errs = append(errs, "imag.baseURL "+err.Error())
	}
	switch cfg.Imag.IDEndpoint {
	case "count", "latest":
		// valid
	default:
		errs = append(errs, "imag.idEndpoint must be one of: count, latest")
	}
	if cfg.Imag.TimeoutSeconds < 1 {
		errs = append(errs, "imag.timeoutSeconds must be >= 1")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if cfg.Store.RetentionDays < 0 {
		errs = append(errs, "store.retentionDays must be >= 0")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an http(s) URL, got %q", raw)
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
