package intervyu

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/harunnryd/intervyu/pkg/configutil"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
	Server      ServerConfig    `mapstructure:"server"`
	Interview   InterviewConfig `mapstructure:"interview"`
	AI          AIConfig        `mapstructure:"ai"`
	STT         VendorConfig    `mapstructure:"stt"`
	Store       StoreConfig     `mapstructure:"store"`
	Resume      ResumeConfig    `mapstructure:"resume"`
	Events      EventsConfig    `mapstructure:"events"`
	Shutdown    ShutdownConfig  `mapstructure:"shutdown"`
	Privacy     PrivacyConfig   `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// NamedVendorConfig is one registered AI backend. Name is the selection key;
// Provider picks the implementation.
type NamedVendorConfig struct {
	Name     string         `mapstructure:"name"`
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	WSPath         string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MetricsPath    string   `mapstructure:"metrics_path"`
}

type InterviewConfig struct {
	MaxTurns          int    `mapstructure:"max_turns"`
	PacingDelayMS     int    `mapstructure:"pacing_delay_ms"`
	RequireResume     bool   `mapstructure:"require_resume"`
	PreferredProvider string `mapstructure:"preferred_provider"`
}

type AIConfig struct {
	Default        string              `mapstructure:"default"`
	CallTimeoutMS  int                 `mapstructure:"call_timeout_ms"`
	ProbeTimeoutMS int                 `mapstructure:"probe_timeout_ms"`
	Providers      []NamedVendorConfig `mapstructure:"providers"`
}

type StoreConfig struct {
	Driver           string `mapstructure:"driver"`
	DSN              string `mapstructure:"dsn"`
	SeedFile         string `mapstructure:"seed_file"`
	AutoMigrate      bool   `mapstructure:"auto_migrate"`
	Verbose          bool   `mapstructure:"verbose"`
	PersistRetries   int    `mapstructure:"persist_retries"`
	PersistBackoffMS int    `mapstructure:"persist_backoff_ms"`
}

type ResumeConfig struct {
	BaseDir  string `mapstructure:"base_dir"`
	MaxChars int    `mapstructure:"max_chars"`
}

type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ShutdownConfig struct {
	DrainTimeoutMS int `mapstructure:"drain_timeout_ms"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// LoadConfig reads .env when present, then the config file at path. An
// empty path loads defaults and INTERVYU_* environment overrides only.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INTERVYU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allow_any_origin", false)
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("interview.max_turns", 5)
	v.SetDefault("interview.pacing_delay_ms", 1000)
	v.SetDefault("interview.require_resume", false)
	v.SetDefault("interview.preferred_provider", "")
	v.SetDefault("ai.default", "")
	v.SetDefault("ai.call_timeout_ms", 30000)
	v.SetDefault("ai.probe_timeout_ms", 5000)
	v.SetDefault("stt.provider", "deepgram")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.seed_file", "")
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("store.verbose", false)
	v.SetDefault("store.persist_retries", 2)
	v.SetDefault("store.persist_backoff_ms", 250)
	v.SetDefault("resume.base_dir", ".")
	v.SetDefault("resume.max_chars", 20000)
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "interview-events")
	v.SetDefault("shutdown.drain_timeout_ms", 15000)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if len(c.AI.Providers) == 0 {
		return fmt.Errorf("ai.providers requires at least one provider")
	}
	seen := make(map[string]bool, len(c.AI.Providers))
	for i, p := range c.AI.Providers {
		if err := configutil.RequireString(p.Provider, fmt.Sprintf("ai.providers[%d].provider", i)); err != nil {
			return err
		}
		name := p.key()
		if seen[name] {
			return fmt.Errorf("ai.providers[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	if d := strings.TrimSpace(c.AI.Default); d != "" && !seen[d] {
		return fmt.Errorf("ai.default %q is not a configured provider", d)
	}
	if err := configutil.RequireString(c.STT.Provider, "stt.provider"); err != nil {
		return err
	}
	if c.Interview.MaxTurns <= 0 {
		return fmt.Errorf("interview.max_turns must be positive")
	}
	if c.Interview.PacingDelayMS < 0 {
		return fmt.Errorf("interview.pacing_delay_ms must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case StoreMemory:
	case StorePostgres:
		if err := configutil.RequireString(c.Store.DSN, "store.dsn"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers is required when events are enabled")
		}
		if err := configutil.RequireString(c.Events.Topic, "events.topic"); err != nil {
			return err
		}
	}
	return nil
}

// key is the name the provider is selected by.
func (n NamedVendorConfig) key() string {
	if name := strings.TrimSpace(n.Name); name != "" {
		return name
	}
	return strings.ToLower(strings.TrimSpace(n.Provider))
}

func (c Config) PacingDelay() time.Duration {
	if c.Interview.PacingDelayMS <= 0 {
		return 0
	}
	return time.Duration(c.Interview.PacingDelayMS) * time.Millisecond
}

func (c Config) DrainTimeout() time.Duration {
	return configutil.Millis(c.Shutdown.DrainTimeoutMS, 15*time.Second)
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.STT.Settings = expandSettings(cfg.STT.Settings)
	for i := range cfg.AI.Providers {
		cfg.AI.Providers[i].Settings = expandSettings(cfg.AI.Providers[i].Settings)
	}
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
