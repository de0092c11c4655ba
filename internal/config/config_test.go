package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, ":8443", cfg.Server.Addr())
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 150*time.Millisecond, cfg.Guard.MinVerify)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Auth.SessionKey)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clubhouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  trusted_proxies: ["10.0.0.0/8"]
storage:
  backend: memory
auth:
  idle_timeout: 2h
mail:
  contact_address: board@club.example.edu
log:
  level: debug
  format: text
`), 0o600))

	t.Setenv("CLUBHOUSE_AUDIT_WEBHOOK_URL", "https://hooks.example/audit")
	t.Setenv("CLUBHOUSE_MAIL_CONTACT_ADDRESS", "chair@club.example.edu")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.IntP("port", "p", 8443, "")
	require.NoError(t, flags.Parse([]string{"--port", "9443"}))

	cfg, err := Load(path, map[string]*pflag.Flag{"server.port": flags.Lookup("port")})
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Server.Port, "flag beats file")
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Auth.IdleTimeout)
	assert.Equal(t, "chair@club.example.edu", cfg.Mail.ContactAddress, "env beats file")
	assert.Equal(t, "https://hooks.example/audit", cfg.Audit.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadUnchangedFlagKeepsDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("insecure", false, "")
	require.NoError(t, flags.Parse(nil))
	t.Setenv("CLUBHOUSE_SERVER_INSECURE", "true")

	cfg, err := Load("", map[string]*pflag.Flag{"server.insecure": flags.Lookup("insecure")})
	require.NoError(t, err)
	assert.True(t, cfg.Server.Insecure)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8443},
			Storage: StorageConfig{Backend: BackendBolt},
			Log:     LogConfig{Level: "info", Format: "json"},
		}
	}
	tests := map[string]func(*Config){
		"unknown backend":    func(c *Config) { c.Storage.Backend = "mongo" },
		"postgres needs dsn": func(c *Config) { c.Storage.Backend = BackendPostgres },
		"port out of range":  func(c *Config) { c.Server.Port = 70000 },
		"half a key pair":    func(c *Config) { c.Server.TLSCert = "cert.pem" },
		"bad level":          func(c *Config) { c.Log.Level = "loud" },
		"bad format":         func(c *Config) { c.Log.Format = "xml" },
	}
	base := valid()
	require.NoError(t, base.Validate())
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	c := Config{Log: LogConfig{Level: "warn", Format: "text"}}
	logger := c.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
