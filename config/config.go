package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration wraps every invalid or missing startup value.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	Account AccountConfig `mapstructure:"account"`
	AI      AIConfig      `mapstructure:"ai"`
	Session SessionConfig `mapstructure:"session"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AccountConfig holds the game account the session driver logs in with.
type AccountConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AIConfig describes the decision channel.
type AIConfig struct {
	URL                string        `mapstructure:"url"`
	KeepaliveInterval  time.Duration `mapstructure:"keepalive_interval"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`
	RedialOnRoundStart bool          `mapstructure:"redial_on_round_start"`
	ReadLimit          int64         `mapstructure:"read_limit"`
}

// SessionConfig describes the endpoint the game-session driver connects to.
type SessionConfig struct {
	HTTPAddress     string        `mapstructure:"http_address"`
	Path            string        `mapstructure:"path"`
	RoomVisibility  string        `mapstructure:"room_visibility"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout"`
}

type MonitorConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

type RPCConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig selects the zap encoder, level and rolling log file.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Validate reports every violation at once, wrapped in ErrConfiguration.
func (c Config) Validate() error {
	var errs []string
	errs = append(errs, validateAccount(c.Account)...)
	errs = append(errs, validateAI(c.AI)...)
	errs = append(errs, validateSession(c.Session)...)
	if c.Monitor.Address == "" {
		errs = append(errs, "monitor.address must not be empty")
	}
	if c.Monitor.Namespace == "" {
		errs = append(errs, "monitor.namespace must not be empty")
	}
	if c.RPC.Address == "" {
		errs = append(errs, "rpc.address must not be empty")
	}
	errs = append(errs, validateLogging(c.Logging)...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}
	return nil
}

func validateAccount(a AccountConfig) []string {
	var errs []string
	if a.Username == "" {
		errs = append(errs, "account.username is required")
	}
	if a.Password == "" {
		errs = append(errs, "account.password is required")
	}
	return errs
}

func validateAI(a AIConfig) []string {
	var errs []string
	if a.URL == "" {
		errs = append(errs, "ai.url is required")
	} else if u, err := url.Parse(a.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("ai.url must be a ws:// or wss:// URL, got %q", a.URL))
	}
	if a.KeepaliveInterval <= 0 {
		errs = append(errs, "ai.keepalive_interval must be positive")
	}
	if a.HandshakeTimeout <= 0 {
		errs = append(errs, "ai.handshake_timeout must be positive")
	}
	if a.ReadLimit <= 0 {
		errs = append(errs, fmt.Sprintf("ai.read_limit must be positive, got %d", a.ReadLimit))
	}
	return errs
}

func validateSession(s SessionConfig) []string {
	var errs []string
	if s.HTTPAddress == "" {
		errs = append(errs, "session.http_address must not be empty")
	}
	if !strings.HasPrefix(s.Path, "/") {
		errs = append(errs, fmt.Sprintf("session.path must start with /, got %q", s.Path))
	}
	if s.RoomVisibility != "private" && s.RoomVisibility != "public" {
		errs = append(errs, fmt.Sprintf("session.room_visibility must be one of [private, public], got %q", s.RoomVisibility))
	}
	if s.TeardownTimeout <= 0 {
		errs = append(errs, "session.teardown_timeout must be positive")
	}
	return errs
}

func validateLogging(l LoggingConfig) []string {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of [debug, info, warn, error], got %q", l.Level))
	}
	if l.Format != "json" && l.Format != "console" {
		errs = append(errs, fmt.Sprintf("logging.format must be one of [json, console], got %q", l.Format))
	}
	if l.File != "" && l.MaxSizeMB < 1 {
		errs = append(errs, fmt.Sprintf("logging.max_size_mb must be >= 1, got %d", l.MaxSizeMB))
	}
	if l.MaxBackups < 0 {
		errs = append(errs, "logging.max_backups must not be negative")
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, "logging.max_age_days must not be negative")
	}
	return errs
}

// LoadConfig reads config.yaml from path when present, applies TET_*
// variables from the environment or from path/.env, and validates the
// result. The legacy TET_USERNAME and TET_PASSWORD variables are honoured.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return load(v, filepath.Join(path, ".env"))
}

// LoadFile is LoadConfig for an explicit file; the .env beside it is read.
func LoadFile(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	return load(v, filepath.Join(filepath.Dir(file), ".env"))
}

func load(v *viper.Viper, dotenv string) (*Config, error) {
	v.SetEnvPrefix("TET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("%w: binding %s: %v", ErrConfiguration, key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: reading config file: %v", ErrConfiguration, err)
		}
	}

	if err := applyDotenv(v, dotenv); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshalling config: %v", ErrConfiguration, err)
	}
	cfg.trim()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDotenv reads an optional KEY=value file. A variable already present in
// the process environment wins over the file, and the file wins over
// config.yaml and defaults.
func applyDotenv(v *viper.Viper, file string) error {
	env := viper.New()
	env.SetConfigFile(file)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", ErrConfiguration, file, err)
	}

	for _, key := range v.AllKeys() {
		names := envNames(key)
		if inEnvironment(names) {
			continue
		}
		for _, name := range names {
			if env.IsSet(name) {
				v.Set(key, env.GetString(name))
				break
			}
		}
	}
	return nil
}

func inEnvironment(names []string) bool {
	for _, name := range names {
		if _, set := os.LookupEnv(name); set {
			return true
		}
	}
	return false
}

// envNames lists the variables for key in lookup order.
func envNames(key string) []string {
	if names, ok := legacyEnv[key]; ok {
		return names
	}
	return []string{"TET_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
}

func (c *Config) trim() {
	c.Account.Username = strings.TrimSpace(c.Account.Username)
	c.Account.Password = strings.TrimSpace(c.Account.Password)
	c.AI.URL = strings.TrimSpace(c.AI.URL)
	c.Session.RoomVisibility = strings.TrimSpace(c.Session.RoomVisibility)
}

// legacyEnv binds keys without defaults so Unmarshal sees them.
var legacyEnv = map[string][]string{
	"account.username": {"TET_USERNAME", "TET_ACCOUNT_USERNAME"},
	"account.password": {"TET_PASSWORD", "TET_ACCOUNT_PASSWORD"},
	"ai.url":           {"TET_AI_URL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ai.keepalive_interval", "30s")
	v.SetDefault("ai.handshake_timeout", "10s")
	v.SetDefault("ai.redial_on_round_start", true)
	v.SetDefault("ai.read_limit", 1<<20)

	v.SetDefault("session.http_address", ":8080")
	v.SetDefault("session.path", "/session")
	v.SetDefault("session.room_visibility", "private")
	v.SetDefault("session.teardown_timeout", "5s")

	v.SetDefault("monitor.address", ":9090")
	v.SetDefault("monitor.namespace", "tetbridge")

	v.SetDefault("rpc.address", ":50051")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "logs/bridge.log")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
}
