// Package config loads runtime configuration with flag > environment >
// default precedence.
package config

import (
	"os"
	"strconv"
	"time"
)

// Default configuration values.
const (
	DefaultListenAddr   = ":8080"
	DefaultServerURL    = "ws://localhost:8080/ws"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultMatchTimeout = 30 * time.Second
)

// Config holds settings shared by the server and client binaries.
type Config struct {
	// Server side.
	ListenAddr   string
	MatchTimeout time.Duration

	// Client side.
	ServerURL string

	// ICE servers for WebRTC.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Options carries CLI flag overrides into Load.
type Options struct {
	ListenAddr string
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options)
// 2. Environment variables
// 3. Defaults
func Load(opts Options) *Config {
	cfg := &Config{
		ListenAddr:   pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr),
		ServerURL:    pick(opts.ServerURL, "SERVER_URL", DefaultServerURL),
		STUNServer:   pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:   pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:     pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:     pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay:   opts.ForceRelay,
		MatchTimeout: DefaultMatchTimeout,
	}

	if !cfg.ForceRelay {
		if v, err := strconv.ParseBool(os.Getenv("FORCE_RELAY")); err == nil {
			cfg.ForceRelay = v
		}
	}
	if v, err := time.ParseDuration(os.Getenv("MATCH_TIMEOUT")); err == nil && v > 0 {
		cfg.MatchTimeout = v
	}

	return cfg
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// GetSTUNServers returns the STUN server list for a peer connection.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns the TURN server list, or nil when none configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{c.TURNServer}
}

// GetTURNCredentials returns the TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
