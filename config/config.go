// Package config loads call-core settings from a YAML file with
// environment overrides. A .env file, when present, is folded into the
// environment first, so local development needs no exported variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/heartwire/callkit/shared"
)

// Config is the full runtime configuration of a call client.
type Config struct {
	Signaling Signaling `yaml:"signaling"`
	ICE       ICE       `yaml:"ice"`
	Call      Call      `yaml:"call"`
	Log       Log       `yaml:"log"`
}

type Signaling struct {
	URL    string `yaml:"url"`
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token"`
}

type ICE struct {
	// CredentialsURL points at the REST endpoint serving short-lived
	// TURN credentials. Empty disables fetching; only Servers are used.
	CredentialsURL string `yaml:"credentials_url"`
	// Servers are static entries used alongside fetched credentials.
	Servers []Server `yaml:"servers"`
}

type Server struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

type Call struct {
	RingTimeout     time.Duration `yaml:"ring_timeout"`
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`
}

type Log struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads path (optional) and applies environment overrides. A .env
// file in the working directory is loaded first when it exists.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	override := func(dst *string, key string) {
		if err != nil {
			return
		}
		var v string
		if v, err = shared.Getenv(shared.GetenvString, key, false, *dst); err == nil {
			*dst = v
		}
	}
	override(&c.Signaling.URL, "CALLKIT_SIGNALING_URL")
	override(&c.Signaling.UserID, "CALLKIT_USER_ID")
	override(&c.Signaling.Token, "CALLKIT_TOKEN")
	override(&c.ICE.CredentialsURL, "CALLKIT_ICE_CREDENTIALS_URL")
	override(&c.Log.File, "CALLKIT_LOG_FILE")
	if err != nil {
		return err
	}
	if c.Call.RingTimeout, err = shared.Getenv(shared.GetenvDuration, "CALLKIT_RING_TIMEOUT", false, c.Call.RingTimeout); err != nil {
		return err
	}
	if c.Call.DisconnectGrace, err = shared.Getenv(shared.GetenvDuration, "CALLKIT_DISCONNECT_GRACE", false, c.Call.DisconnectGrace); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Call.RingTimeout <= 0 {
		c.Call.RingTimeout = 30 * time.Second
	}
	if c.Call.DisconnectGrace <= 0 {
		c.Call.DisconnectGrace = 5 * time.Second
	}
	if len(c.ICE.Servers) == 0 {
		c.ICE.Servers = []Server{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 7
	}
}

func (c *Config) validate() error {
	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url is required")
	}
	if c.Signaling.UserID == "" {
		return shared.ErrNoLocalID
	}
	return nil
}

// WebRTC builds the static part of the peer connection configuration.
// Fetched TURN credentials are appended by the caller per call.
func (c *Config) WebRTC() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICE.Servers))
	for _, s := range c.ICE.Servers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}
