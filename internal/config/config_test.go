package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, ModePeer, cfg.Mode)
	assert.Equal(t, ":11451", cfg.Relay.Listen)
	assert.Equal(t, 60*time.Second, cfg.Signal.HeartbeatInterval)
	assert.Equal(t, 150*time.Second, cfg.Relay.IdleTimeout)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.STUNURLs)
	assert.Equal(t, LogFormatText, cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 0, cfg.Capture.Display)
	assert.Equal(t, float64(15), cfg.Capture.FrameRate)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "remotedesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: peer
signal:
  address: relay.example.com
  port: "9000"
  heartbeat_interval: 30s
log:
  level: warn
capture:
  display: 1
`), 0o600))

	cfg, err := load(env(map[string]string{
		"REMOTEDESK_CONFIG":      path,
		"REMOTEDESK_SIGNAL_PORT": "9100",
		"REMOTEDESK_LOG_LEVEL":   "debug",
		"REMOTEDESK_STUN_URLS":   "stun:a:3478, stun:b:3478",
	}), []string{"--log-level", "error", "--display=2"})
	require.NoError(t, err)

	assert.Equal(t, "relay.example.com", cfg.Signal.Address)
	assert.Equal(t, 30*time.Second, cfg.Signal.HeartbeatInterval)
	assert.Equal(t, "9100", cfg.Signal.Port)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Capture.Display)
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, cfg.ICE.STUNURLs)
}

func TestLoad_ConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: relay\nrelay:\n  listen: \":9999\"\n"), 0o600))

	cfg, err := load(env(nil), []string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, ModeRelay, cfg.Mode)
	assert.Equal(t, ":9999", cfg.Relay.Listen)
}

func TestLoad_LegacyModeVariable(t *testing.T) {
	cfg, err := load(env(map[string]string{"MODE": "relay"}), nil)
	require.NoError(t, err)
	assert.Equal(t, ModeRelay, cfg.Mode)

	cfg, err = load(env(map[string]string{"MODE": "relay", "REMOTEDESK_MODE": "peer"}), nil)
	require.NoError(t, err)
	assert.Equal(t, ModePeer, cfg.Mode)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"unknown mode", map[string]string{"REMOTEDESK_MODE": "server"}, nil, "invalid mode"},
		{"bad heartbeat", map[string]string{"REMOTEDESK_HEARTBEAT_INTERVAL": "soon"}, nil, "REMOTEDESK_HEARTBEAT_INTERVAL"},
		{"bad port", nil, []string{"--relay-port", "http"}, "invalid relay port"},
		{"bad level", nil, []string{"--log-level", "loud"}, "invalid log level"},
		{"bad format", nil, []string{"--log-format", "xml"}, "invalid log format"},
		{"half connect", nil, []string{"--connect-id", "abc"}, "connect id and key"},
		{"turn without credentials", nil, []string{"--turn", "turn:t:3478"}, "turn urls"},
		{"unknown flag", nil, []string{"--nope"}, "parse flags"},
		{"missing file", map[string]string{"REMOTEDESK_CONFIG": "/does/not/exist.yaml"}, nil, "read config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(env(tc.env), tc.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signal:\n  adress: typo\n"), 0o600))

	_, err := load(env(nil), []string{"--config=" + path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestLoad_Help(t *testing.T) {
	_, err := load(env(nil), []string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestICEServers(t *testing.T) {
	cfg := Default()
	cfg.ICE.TURNURLs = []string{"turn:t:3478"}
	cfg.ICE.TURNUsername = "u"
	cfg.ICE.TURNCredential = "p"

	servers := cfg.ICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{DefaultSTUNURL}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = LogFormatJSON
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger, err := NewLogger(cfg, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := strings.TrimSpace(buf.String())
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}
