package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
signaling:
  url: wss://rtc.example.com/ws
  user_id: alice
  token: tok-1
ice:
  credentials_url: https://api.example.com/ice
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://rtc.example.com/ws", cfg.Signaling.URL)
	assert.Equal(t, "alice", cfg.Signaling.UserID)
	assert.Equal(t, 30*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 5*time.Second, cfg.Call.DisconnectGrace)
	require.Len(t, cfg.ICE.Servers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.Servers[0].URLs)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
signaling:
  url: wss://rtc.example.com/ws
  user_id: alice
call:
  ring_timeout: 45s
`)
	t.Setenv("CALLKIT_USER_ID", "bob")
	t.Setenv("CALLKIT_RING_TIMEOUT", "20s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Signaling.UserID)
	assert.Equal(t, 20*time.Second, cfg.Call.RingTimeout)
}

func TestLoadMissingUserID(t *testing.T) {
	path := writeConfig(t, `
signaling:
  url: wss://rtc.example.com/ws
`)
	os.Unsetenv("CALLKIT_USER_ID")

	_, err := Load(path)
	require.Error(t, err)
}

func TestWebRTCConfiguration(t *testing.T) {
	path := writeConfig(t, `
signaling:
  url: wss://rtc.example.com/ws
  user_id: alice
ice:
  servers:
    - urls: ["turn:turn.example.com:3478"]
      username: u1
      credential: s3cret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	rtc := cfg.WebRTC()
	require.Len(t, rtc.ICEServers, 1)
	assert.Equal(t, "u1", rtc.ICEServers[0].Username)
	assert.Equal(t, "s3cret", rtc.ICEServers[0].Credential)
}
