// Package config loads server settings from an optional clubhouse.yaml,
// CLUBHOUSE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

const envPrefix = "CLUBHOUSE"

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Guard   GuardConfig   `mapstructure:"guard"`
	Mail    MailConfig    `mapstructure:"mail"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	TLSCert        string   `mapstructure:"tls_cert"`
	TLSKey         string   `mapstructure:"tls_key"`
	Insecure       bool     `mapstructure:"insecure"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
	DSN     string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Issuer      string        `mapstructure:"issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// SessionKey is a hex AES-256 key. When set, browser sessions are
	// persisted encrypted and survive restarts.
	SessionKey string `mapstructure:"session_key"`
	// SigningKey is a hex HS256 key for ID tokens. When empty a random key
	// is generated at start.
	SigningKey string `mapstructure:"signing_key"`
}

type GuardConfig struct {
	MinVerify time.Duration `mapstructure:"min_verify"`
}

type MailConfig struct {
	ContactAddress string `mapstructure:"contact_address"`
}

type AuditConfig struct {
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookHeader string `mapstructure:"webhook_header"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every key. Keys viper does not know are skipped by
// AutomaticEnv during Unmarshal, so empty defaults matter.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8443)
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.insecure", false)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("storage.backend", BackendBolt)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("auth.issuer", "clubhouse")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.session_ttl", 7*24*time.Hour)
	v.SetDefault("auth.idle_timeout", 24*time.Hour)
	v.SetDefault("auth.session_key", "")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("guard.min_verify", 150*time.Millisecond)
	v.SetDefault("mail.contact_address", "officers@clubhouse.example")
	v.SetDefault("audit.webhook_url", "")
	v.SetDefault("audit.webhook_header", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the configuration from configFile, or from clubhouse.yaml in
// . or /etc/clubhouse when configFile is empty; a missing default file is
// not an error. bind maps config keys to the flags that override them.
func Load(configFile string, bind map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range bind {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", flag.Name, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("clubhouse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/clubhouse")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBolt, BackendMemory:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (want bolt, memory or postgres)", c.Storage.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log.format %q (want json or text)", c.Log.Format)
	}
	return nil
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}
