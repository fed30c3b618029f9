// Package config provides layered configuration loading.
//
// Configuration is resolved once at startup and handed to every component
// that needs it. Nothing reads the environment after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/campusconnect/campus-cli/internal/hostutil"
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	BaseURL  string `json:"base_url" yaml:"base_url"`
	Platform string `json:"platform" yaml:"platform"`

	// Credential store settings
	Store         string `json:"store" yaml:"store"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	CacheDir      string `json:"cache_dir" yaml:"cache_dir"`

	// Transport settings
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// Output settings
	Format string `json:"format" yaml:"format"`

	// Behavior preferences (overridable by flags)
	Stats   *bool `json:"stats,omitempty" yaml:"stats,omitempty"`
	Verbose *int  `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-" yaml:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceSystem   Source = "system"
	SourceGlobal   Source = "global"
	SourceLocal    Source = "local"
	SourceDotEnv   Source = "dotenv"
	SourceEnv      Source = "env"
	SourceFlag     Source = "flag"
	SourcePlatform Source = "platform"
)

// Credential store backends.
const (
	StoreAuto    = "auto"
	StoreKeyring = "keyring"
	StoreFile    = "file"
	StoreMemory  = "memory"
	StoreRedis   = "redis"
)

// Platform base URLs. Android emulators and devices cannot reach the host's
// loopback, so they talk to the development machine on the LAN.
const (
	WebBaseURL     = "http://127.0.0.1:8000"
	AndroidBaseURL = "http://192.168.130.16:8000"
)

// PlatformBaseURL returns the backend URL for a client platform.
func PlatformBaseURL(platform string) string {
	switch strings.ToLower(platform) {
	case "android":
		return AndroidBaseURL
	default:
		return WebBaseURL
	}
}

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	Host     string
	Platform string
	Store    string
	CacheDir string
	Format   string
}

// Default returns the default configuration.
func Default() *Config {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}

	return &Config{
		Platform:   "web",
		Store:      StoreAuto,
		RedisAddr:  "127.0.0.1:6379",
		CacheDir:   filepath.Join(cacheDir, "campus"),
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Second,
		Format:     "auto",
		Sources:    make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > .env > local > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	for _, path := range configFiles(systemConfigDir()) {
		loadFromFile(cfg, path, SourceSystem)
	}
	for _, path := range configFiles(GlobalConfigDir()) {
		loadFromFile(cfg, path, SourceGlobal)
	}
	for _, path := range configFiles(localConfigDir()) {
		loadFromFile(cfg, path, SourceLocal)
	}

	loadDotEnv(cfg, filepath.Join(GlobalConfigDir(), ".env"), false)
	loadDotEnv(cfg, ".env", true)

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve fills derived values and validates the result. The base URL comes
// from the platform table unless one was configured explicitly.
func (cfg *Config) Resolve() error {
	if cfg.BaseURL == "" {
		cfg.BaseURL = PlatformBaseURL(cfg.Platform)
		cfg.Sources["base_url"] = string(SourcePlatform)
	}
	cfg.BaseURL = NormalizeBaseURL(cfg.BaseURL)

	if err := hostutil.RequireSecureURL(cfg.BaseURL); err != nil {
		return err
	}

	switch cfg.Store {
	case StoreAuto, StoreKeyring, StoreFile, StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown store %q (expected auto, keyring, file, memory or redis)", cfg.Store)
	}

	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative, got %s", cfg.RetryDelay)
	}
	return nil
}

// authorityKeys control where tokens are sent and stored. A config file or
// .env in the working directory must not set these: a malicious checkout
// could otherwise redirect authenticated traffic.
var authorityKeys = map[string]bool{
	"base_url":       true,
	"platform":       true,
	"store":          true,
	"redis_addr":     true,
	"redis_password": true,
	"redis_db":       true,
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileCfg)
	default:
		err = json.Unmarshal(data, &fileCfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	untrusted := source == SourceLocal
	for key, raw := range fileCfg {
		if untrusted && authorityKeys[key] {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s from %s config at %s (authority keys are not trusted from local config)\n", key, source, path)
			continue
		}
		cfg.set(key, stringValue(raw), source)
	}
}

// loadDotEnv applies a .env file without overriding variables already set in
// the real environment. Empty variables count as unset.
func loadDotEnv(cfg *Config, path string, untrusted bool) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return
	}
	for name, value := range vars {
		key, ok := envKeys[name]
		if !ok || value == "" {
			continue
		}
		if os.Getenv(name) != "" {
			continue
		}
		if untrusted && authorityKeys[key] {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s from %s (authority keys are not trusted from a working-directory .env)\n", name, path)
			continue
		}
		cfg.set(key, value, SourceDotEnv)
	}
}

// envKeys maps environment variables onto config keys.
var envKeys = map[string]string{
	"CAMPUS_BASE_URL":       "base_url",
	"CAMPUS_PLATFORM":       "platform",
	"CAMPUS_STORE":          "store",
	"CAMPUS_REDIS_ADDR":     "redis_addr",
	"CAMPUS_REDIS_PASSWORD": "redis_password",
	"CAMPUS_REDIS_DB":       "redis_db",
	"CAMPUS_CACHE_DIR":      "cache_dir",
	"CAMPUS_TIMEOUT":        "timeout",
	"CAMPUS_MAX_RETRIES":    "max_retries",
	"CAMPUS_RETRY_DELAY":    "retry_delay",
	"CAMPUS_FORMAT":         "format",
	"CAMPUS_STATS":          "stats",
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	for name, key := range envKeys {
		if v := os.Getenv(name); v != "" {
			cfg.set(key, v, SourceEnv)
		}
	}

	// CAMPUS_NO_KEYRING forces file storage when the keyring would be used.
	if b, ok := parseEnvBool(os.Getenv("CAMPUS_NO_KEYRING")); ok && b {
		if cfg.Store == StoreAuto || cfg.Store == StoreKeyring {
			cfg.Store = StoreFile
			cfg.Sources["store"] = string(SourceEnv)
		}
	}
}

// set applies one key from any layer. Values that fail to parse are skipped
// with a warning so a bad entry never masks a lower layer's good value.
func (cfg *Config) set(key, value string, source Source) {
	if value == "" {
		return
	}

	switch key {
	case "base_url":
		cfg.BaseURL = value
	case "platform":
		cfg.Platform = strings.ToLower(value)
	case "store":
		cfg.Store = strings.ToLower(value)
	case "redis_addr":
		cfg.RedisAddr = value
	case "redis_password":
		cfg.RedisPassword = value
	case "redis_db":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			warnInvalid(key, value, source)
			return
		}
		cfg.RedisDB = n
	case "cache_dir":
		cfg.CacheDir = value
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			warnInvalid(key, value, source)
			return
		}
		cfg.Timeout = d
	case "max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			warnInvalid(key, value, source)
			return
		}
		cfg.MaxRetries = n
	case "retry_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			warnInvalid(key, value, source)
			return
		}
		cfg.RetryDelay = d
	case "format":
		cfg.Format = value
	case "stats":
		b, ok := parseEnvBool(value)
		if !ok {
			warnInvalid(key, value, source)
			return
		}
		cfg.Stats = &b
	case "verbose":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 2 {
			warnInvalid(key, value, source)
			return
		}
		cfg.Verbose = &n
	default:
		return // unknown keys are ignored
	}
	cfg.Sources[key] = string(source)
}

// Keys lists every key a config file may set.
var Keys = []string{
	"base_url", "platform", "store", "redis_addr", "redis_db", "cache_dir",
	"timeout", "max_retries", "retry_delay", "format", "stats", "verbose",
}

// IsAuthorityKey reports whether key is ignored in working-directory config.
func IsAuthorityKey(key string) bool {
	return authorityKeys[key]
}

// ParseValue validates value for key and returns it in the type a config
// file stores it as.
func ParseValue(key, value string) (any, error) {
	switch key {
	case "base_url", "redis_addr", "cache_dir":
		if value == "" {
			return nil, fmt.Errorf("%s must not be empty", key)
		}
		return value, nil
	case "platform":
		switch strings.ToLower(value) {
		case "web", "android", "ios":
			return strings.ToLower(value), nil
		}
		return nil, fmt.Errorf("platform must be web, android or ios")
	case "store":
		switch strings.ToLower(value) {
		case StoreAuto, StoreKeyring, StoreFile, StoreMemory, StoreRedis:
			return strings.ToLower(value), nil
		}
		return nil, fmt.Errorf("store must be auto, keyring, file, memory or redis")
	case "format":
		switch value {
		case "auto", "json", "styled", "quiet":
			return value, nil
		}
		return nil, fmt.Errorf("format must be auto, json, styled or quiet")
	case "timeout", "retry_delay":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 || (key == "timeout" && d == 0) {
			return nil, fmt.Errorf("%s must be a positive duration such as 10s", key)
		}
		return value, nil
	case "max_retries", "redis_db":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return n, nil
	case "verbose":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 2 {
			return nil, fmt.Errorf("verbose must be 0, 1, or 2")
		}
		return n, nil
	case "stats":
		b, ok := parseEnvBool(value)
		if !ok {
			return nil, fmt.Errorf("stats must be true/false (or 1/0)")
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown config key %q", key)
	}
}

// LocalConfigPath is the working-directory config file.
func LocalConfigPath() string {
	return filepath.Join(".campus", "config.json")
}

func warnInvalid(key, value string, source Source) {
	fmt.Fprintf(os.Stderr, "warning: ignoring invalid %s %q from %s\n", key, value, source)
}

// parseEnvBool parses a boolean value strictly.
// Returns (value, true) for recognized values, (false, false) for unrecognized.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// stringValue flattens a decoded JSON or YAML scalar into its string form.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.Host != "" {
		cfg.BaseURL = hostutil.Normalize(o.Host)
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.Platform != "" {
		cfg.Platform = strings.ToLower(o.Platform)
		cfg.Sources["platform"] = string(SourceFlag)
	}
	if o.Store != "" {
		cfg.Store = strings.ToLower(o.Store)
		cfg.Sources["store"] = string(SourceFlag)
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
		cfg.Sources["cache_dir"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// Path helpers

func systemConfigDir() string {
	return "/etc/campus"
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "campus")
}

func localConfigDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "" // fail closed: can't determine CWD
	}
	return filepath.Join(dir, ".campus")
}

// configFiles returns the config file candidates in dir. JSON is loaded
// before YAML, so YAML wins when both exist.
func configFiles(dir string) []string {
	if dir == "" {
		return nil
	}
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.yaml"),
	}
}

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
