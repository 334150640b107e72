// Package config loads the TOML configuration of the mtcore command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/mtcore/transport"
)

var (
	// ErrInvalidDC is returned for datacenter ids outside 1..5.
	ErrInvalidDC = errors.New("invalid datacenter id")
	// ErrInvalidLogLevel is returned for unknown log levels.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned for formats other than text and json.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidTimeout is returned for non-positive durations.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// Config is the resolved configuration.
type Config struct {
	Session   SessionConfig
	Transport TransportConfig
	// Proxy is nil when connections go out directly.
	Proxy *transport.ProxyConfig
	Log   LogConfig
}

// SessionConfig locates the session store.
type SessionConfig struct {
	// Path is the SQLite file. ":memory:" keeps the session in memory.
	Path string
	// PassphraseEnv names the environment variable holding the passphrase
	// that seals the auth key. Empty disables sealing.
	PassphraseEnv      string
	CheckpointInterval time.Duration
}

// TransportConfig selects the datacenter and connection parameters.
type TransportConfig struct {
	DCID     int
	TestMode bool
	IPv6     bool
	// Address overrides the datacenter table when set.
	Address     string
	DialTimeout time.Duration
	Padded      bool
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Session: SessionConfig{
			Path:               "mtcore.session",
			CheckpointInterval: time.Minute,
		},
		Transport: TransportConfig{
			DCID:        2,
			DialTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

type fileConfig struct {
	Session struct {
		Path               string `toml:"path"`
		PassphraseEnv      string `toml:"passphrase_env"`
		CheckpointInterval string `toml:"checkpoint_interval"`
	} `toml:"session"`
	Transport struct {
		DCID        int    `toml:"dc_id"`
		TestMode    bool   `toml:"test_mode"`
		IPv6        bool   `toml:"ipv6"`
		Address     string `toml:"address"`
		DialTimeout string `toml:"dial_timeout"`
		Padded      bool   `toml:"padded"`
	} `toml:"transport"`
	Proxy struct {
		Type     string `toml:"type"`
		Host     string `toml:"host"`
		Port     uint16 `toml:"port"`
		Username string `toml:"username"`
		Password string `toml:"password"`
	} `toml:"proxy"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("session", "path") {
		cfg.Session.Path = strings.TrimSpace(raw.Session.Path)
	}
	if meta.IsDefined("session", "passphrase_env") {
		cfg.Session.PassphraseEnv = strings.TrimSpace(raw.Session.PassphraseEnv)
	}
	if meta.IsDefined("session", "checkpoint_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.CheckpointInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse session.checkpoint_interval: %w", err)
		}
		cfg.Session.CheckpointInterval = d
	}

	if meta.IsDefined("transport", "dc_id") {
		cfg.Transport.DCID = raw.Transport.DCID
	}
	if meta.IsDefined("transport", "test_mode") {
		cfg.Transport.TestMode = raw.Transport.TestMode
	}
	if meta.IsDefined("transport", "ipv6") {
		cfg.Transport.IPv6 = raw.Transport.IPv6
	}
	if meta.IsDefined("transport", "address") {
		cfg.Transport.Address = strings.TrimSpace(raw.Transport.Address)
	}
	if meta.IsDefined("transport", "dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Transport.DialTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse transport.dial_timeout: %w", err)
		}
		cfg.Transport.DialTimeout = d
	}
	if meta.IsDefined("transport", "padded") {
		cfg.Transport.Padded = raw.Transport.Padded
	}

	if meta.IsDefined("proxy") && strings.TrimSpace(raw.Proxy.Type) != "" {
		cfg.Proxy = &transport.ProxyConfig{
			Type:     strings.ToLower(strings.TrimSpace(raw.Proxy.Type)),
			Host:     strings.TrimSpace(raw.Proxy.Host),
			Port:     raw.Proxy.Port,
			Username: raw.Proxy.Username,
			Password: raw.Proxy.Password,
		}
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(raw.Log.Format))
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown keys %v", undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Transport.Address == "" && (c.Transport.DCID < 1 || c.Transport.DCID > 5) {
		return fmt.Errorf("%w: %d", ErrInvalidDC, c.Transport.DCID)
	}
	if c.Transport.DialTimeout <= 0 {
		return fmt.Errorf("%w: dial_timeout %s", ErrInvalidTimeout, c.Transport.DialTimeout)
	}
	if c.Session.CheckpointInterval <= 0 {
		return fmt.Errorf("%w: checkpoint_interval %s", ErrInvalidTimeout, c.Session.CheckpointInterval)
	}
	if c.Session.Path == "" {
		return errors.New("session.path must not be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}

	if c.Proxy != nil {
		if c.Proxy.Type != "socks5" && c.Proxy.Type != "http" {
			return fmt.Errorf("%w: %s", transport.ErrUnsupportedProxy, c.Proxy.Type)
		}
		if c.Proxy.Host == "" || c.Proxy.Port == 0 {
			return errors.New("proxy host and port are required")
		}
	}
	return nil
}

// Passphrase returns the sealing passphrase from the configured environment
// variable, nil when sealing is off.
func (c Config) Passphrase() []byte {
	if c.Session.PassphraseEnv == "" {
		return nil
	}
	if v := os.Getenv(c.Session.PassphraseEnv); v != "" {
		return []byte(v)
	}
	return nil
}

// Address resolves the address to dial.
func (c Config) Address() (string, error) {
	if c.Transport.Address != "" {
		return c.Transport.Address, nil
	}
	return transport.DCAddress(c.Transport.DCID, c.Transport.TestMode, c.Transport.IPv6)
}

// Protocol returns the framing tag to announce.
func (c Config) Protocol() transport.Protocol {
	if c.Transport.Padded {
		return transport.ProtocolPaddedIntermediate
	}
	return transport.ProtocolIntermediate
}
