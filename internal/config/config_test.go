package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load("")
	require.NoError(err)
	require.Equal(":8000", cfg.Server.Address)
	require.Equal("/socket", cfg.Server.SocketPath)
	require.Equal(10*time.Second, cfg.Server.WriteTimeout.Duration)
	require.False(cfg.Hub.StrictHandshake)
	require.Empty(cfg.Auth.AccessTokenSecret)
}

func TestLoadFileAndEnv(t *testing.T) {
	require := require.New(t)

	path := writeConfig(t, `
[server]
address = "127.0.0.1:9000"
allowed_origins = ["http://localhost:5173"]
write_timeout = "3s"

[hub]
strict_handshake = true
key_workers = 2

[logging]
level = "debug"
format = "json"
`)
	t.Setenv("KEYRELAY_REQUIRE_SHARED_KEY", "true")
	t.Setenv("ACCESS_TOKEN_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("127.0.0.1:9000", cfg.Server.Address)
	require.Equal([]string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	require.Equal(3*time.Second, cfg.Server.WriteTimeout.Duration)
	require.True(cfg.Hub.StrictHandshake)
	require.True(cfg.Hub.RequireSharedKey)
	require.Equal(2, cfg.Hub.KeyWorkers)
	require.Equal("s3cret", cfg.Auth.AccessTokenSecret)
	require.Equal("accessToken", cfg.Auth.CookieName)
	require.Equal("debug", cfg.Logger().GetLevel().String())
}

func TestPortOverridesAddress(t *testing.T) {
	path := writeConfig(t, "[server]\naddress = \"127.0.0.1:9000\"\n")
	t.Setenv("PORT", "8123")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8123", cfg.Server.Address)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[server]\nadress = \":1\"\n")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"bad address":    func(c *Config) { c.Server.Address = "nope" },
		"relative path":  func(c *Config) { c.Server.SocketPath = "socket" },
		"shared path":    func(c *Config) { c.Server.MetricsPath = c.Server.SocketPath },
		"zero buffer":    func(c *Config) { c.Server.SendBuffer = 0 },
		"zero workers":   func(c *Config) { c.Hub.KeyWorkers = 0 },
		"bad level":      func(c *Config) { c.Logging.Level = "loud" },
		"bad format":     func(c *Config) { c.Logging.Format = "xml" },
		"zero timeout":   func(c *Config) { c.Server.PongTimeout = Duration{} },
		"short pong":     func(c *Config) { c.Server.PongTimeout = Duration{time.Nanosecond} },
		"port too large": func(c *Config) { c.Server.Port = 70000 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.ErrorIs(t, cfg.FixupAndValidate(), ErrInvalid)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	require := require.New(t)

	b, err := Encode(Default())
	require.NoError(err)

	cfg := Default()
	cfg.Server.Address = ""
	require.NoError(decode(b, cfg))
	require.NoError(cfg.FixupAndValidate())
	def := Default()
	require.Equal(def.Server.Address, cfg.Server.Address)
	require.Equal(def.Server.WriteTimeout, cfg.Server.WriteTimeout)
	require.Equal(def.Server.PongTimeout, cfg.Server.PongTimeout)
	require.Equal(def.Server.SendBuffer, cfg.Server.SendBuffer)
	require.Equal(def.Hub, cfg.Hub)
	require.Equal(def.Auth, cfg.Auth)
	require.Equal(def.Logging, cfg.Logging)
}
