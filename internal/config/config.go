// Package config holds the runtime configuration of an fsmlink peer and its
// TOML file loader.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Mode selects the packet channel the peer runs over.
type Mode string

const (
	ModeSim   Mode = "sim"   // simulator hub
	ModeP2P   Mode = "p2p"   // WebRTC DataChannel
	ModeLocal Mode = "local" // two in-process peers over a pipe
)

// Role represents the peer's side of P2P signaling (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

var (
	ErrInvalidMode = errors.New("config: invalid mode")
	ErrInvalidRole = errors.New("config: invalid role")
)

// Config stores all parameters gathered from the config file, flags and
// interactive prompts.
type Config struct {
	Mode Mode

	// Session setup. Channel and ID are meaningful in sim mode only; a
	// zero value means "ask interactively".
	Channel  int
	ID       int
	LossRate int    // percentage of outbound packets to drop, 0..100
	SimURL   string // simulator hub endpoint

	Role   Role   // p2p only
	WSAddr string // p2p host: signaling listen address
	WSURL  string // p2p client: signaling URL including ?pin=

	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	RetryLimit     int
	PollInterval   time.Duration

	Debug bool
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Mode:           ModeSim,
		SimURL:         "ws://127.0.0.1:8787/ws",
		Role:           RoleHost,
		WSAddr:         ":0",
		ConnectTimeout: 3 * time.Second,
		DataTimeout:    3 * time.Second,
		RetryLimit:     3,
		PollInterval:   10 * time.Millisecond,
	}
}

// fileConfig maps config.toml keys onto Config.
type fileConfig struct {
	Mode           string `toml:"mode"`
	Channel        int    `toml:"channel"`
	ID             int    `toml:"id"`
	LossRate       int    `toml:"loss_rate"`
	SimURL         string `toml:"sim_url"`
	Role           string `toml:"role"`
	WSAddr         string `toml:"ws_addr"`
	WSURL          string `toml:"ws_url"`
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	RetryLimit     int    `toml:"retry_limit"`
	PollInterval   string `toml:"poll_interval"`
	Debug          bool   `toml:"debug"`
}

// Load overlays the TOML file at path onto Default. Only keys present in
// the file override the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("mode") {
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(raw.Mode)))
	}
	if meta.IsDefined("channel") {
		cfg.Channel = raw.Channel
	}
	if meta.IsDefined("id") {
		cfg.ID = raw.ID
	}
	if meta.IsDefined("loss_rate") {
		cfg.LossRate = raw.LossRate
	}
	if meta.IsDefined("sim_url") {
		cfg.SimURL = strings.TrimSpace(raw.SimURL)
	}
	if meta.IsDefined("role") {
		cfg.Role = Role(strings.ToLower(strings.TrimSpace(raw.Role)))
	}
	if meta.IsDefined("ws_addr") {
		cfg.WSAddr = strings.TrimSpace(raw.WSAddr)
	}
	if meta.IsDefined("ws_url") {
		cfg.WSURL = strings.TrimSpace(raw.WSURL)
	}
	if meta.IsDefined("retry_limit") {
		cfg.RetryLimit = raw.RetryLimit
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"data_timeout", raw.DataTimeout, &cfg.DataTimeout},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("load config: %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be repaired and clamps the loss
// rate into range.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSim, ModeP2P, ModeLocal:
	default:
		return fmt.Errorf("%w: %q (expected sim, p2p or local)", ErrInvalidMode, c.Mode)
	}

	if c.Mode == ModeP2P {
		switch c.Role {
		case RoleHost:
		case RoleClient:
			if c.WSURL == "" {
				return errors.New("config: ws_url is required for the p2p client")
			}
		default:
			return fmt.Errorf("%w: %q (expected host or client)", ErrInvalidRole, c.Role)
		}
	}

	if c.ConnectTimeout <= 0 || c.DataTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.RetryLimit < 1 {
		return fmt.Errorf("config: retry_limit must be at least 1, got %d", c.RetryLimit)
	}
	if c.PollInterval <= 0 {
		return errors.New("config: poll_interval must be positive")
	}

	c.LossRate = ClampLoss(c.LossRate)
	return nil
}

// ClampLoss limits a loss percentage to 0..100.
func ClampLoss(rate int) int {
	return min(max(rate, 0), 100)
}
