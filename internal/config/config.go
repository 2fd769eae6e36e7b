// Package config loads the relay configuration: built-in defaults, then an
// optional TOML file, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

const (
	defaultAddress         = ":8000"
	defaultSocketPath      = "/socket"
	defaultMetricsPath     = "/metrics"
	defaultSendBuffer      = 256
	defaultMaxMessageBytes = 16 << 10
	defaultWriteTimeout    = 10 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultKeyWorkers      = 4
	defaultCookieName      = "accessToken"

	// minPongTimeout keeps the derived ping period well above zero.
	minPongTimeout = time.Second
)

var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Server is the transport configuration.
type Server struct {
	Address string `toml:"address" env:"KEYRELAY_ADDRESS"`
	// Port, when set, replaces the port of Address.
	Port            int      `toml:"-" env:"PORT"`
	AllowedOrigins  []string `toml:"allowed_origins" env:"KEYRELAY_ALLOWED_ORIGINS" envSeparator:","`
	SocketPath      string   `toml:"socket_path" env:"KEYRELAY_SOCKET_PATH"`
	MetricsPath     string   `toml:"metrics_path" env:"KEYRELAY_METRICS_PATH"`
	SendBuffer      int      `toml:"send_buffer" env:"KEYRELAY_SEND_BUFFER"`
	MaxMessageBytes int64    `toml:"max_message_bytes" env:"KEYRELAY_MAX_MESSAGE_BYTES"`
	WriteTimeout    Duration `toml:"write_timeout" env:"KEYRELAY_WRITE_TIMEOUT"`
	PongTimeout     Duration `toml:"pong_timeout" env:"KEYRELAY_PONG_TIMEOUT"`
}

// Hub tunes the relay core.
type Hub struct {
	StrictHandshake  bool `toml:"strict_handshake" env:"KEYRELAY_STRICT_HANDSHAKE"`
	RequireSharedKey bool `toml:"require_shared_key" env:"KEYRELAY_REQUIRE_SHARED_KEY"`
	KeyWorkers       int  `toml:"key_workers" env:"KEYRELAY_KEY_WORKERS"`
}

// Auth enables access-token checks on the socket upgrade. An empty secret
// disables them.
type Auth struct {
	AccessTokenSecret string `toml:"access_token_secret" env:"ACCESS_TOKEN_SECRET"`
	CookieName        string `toml:"cookie_name" env:"KEYRELAY_AUTH_COOKIE"`
}

type Logging struct {
	Level  string `toml:"level" env:"KEYRELAY_LOG_LEVEL"`
	Format string `toml:"format" env:"KEYRELAY_LOG_FORMAT"`
}

type Config struct {
	Server  Server  `toml:"server"`
	Hub     Hub     `toml:"hub"`
	Auth    Auth    `toml:"auth"`
	Logging Logging `toml:"logging"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: Server{
			Address:         defaultAddress,
			SocketPath:      defaultSocketPath,
			MetricsPath:     defaultMetricsPath,
			SendBuffer:      defaultSendBuffer,
			MaxMessageBytes: defaultMaxMessageBytes,
			WriteTimeout:    Duration{defaultWriteTimeout},
			PongTimeout:     Duration{defaultPongTimeout},
		},
		Hub: Hub{KeyWorkers: defaultKeyWorkers},
		Auth: Auth{
			CookieName: defaultCookieName,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the TOML file at path (if non-empty)
// and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(b, cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(b []byte, cfg *Config) error {
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	return nil
}

// FixupAndValidate applies derived settings and checks the result.
func (c *Config) FixupAndValidate() error {
	if c.Server.Port != 0 {
		if c.Server.Port < 0 || c.Server.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Server.Port)
		}
		host, _, err := net.SplitHostPort(c.Server.Address)
		if err != nil {
			host = ""
		}
		c.Server.Address = net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
	}
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalid, c.Server.Address, err)
	}
	for _, p := range []string{c.Server.SocketPath, c.Server.MetricsPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: path %q must start with /", ErrInvalid, p)
		}
	}
	if c.Server.SocketPath == c.Server.MetricsPath {
		return fmt.Errorf("%w: socket and metrics share path %q", ErrInvalid, c.Server.SocketPath)
	}
	if c.Server.SendBuffer < 1 {
		return fmt.Errorf("%w: send_buffer must be positive", ErrInvalid)
	}
	if c.Server.MaxMessageBytes < 1 {
		return fmt.Errorf("%w: max_message_bytes must be positive", ErrInvalid)
	}
	if c.Server.WriteTimeout.Duration <= 0 || c.Server.PongTimeout.Duration <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	if c.Server.PongTimeout.Duration < minPongTimeout {
		return fmt.Errorf("%w: pong_timeout must be at least %s", ErrInvalid, minPongTimeout)
	}
	if c.Hub.KeyWorkers < 1 {
		return fmt.Errorf("%w: key_workers must be positive", ErrInvalid)
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = defaultCookieName
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// Logger builds the logger described by the logging section.
func (c *Config) Logger() *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Logging.Level); err == nil {
		l.SetLevel(lvl)
	}
	if c.Logging.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// Encode writes c as TOML.
func Encode(c *Config) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(c); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return buf.Bytes(), nil
}
