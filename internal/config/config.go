// Package config loads process settings from an optional YAML file,
// REMOTEDESK_* environment variables and command-line flags, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeRelay Mode = "relay"
	ModePeer  Mode = "peer"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultRelayListen       = ":11451"
	DefaultSignalAddress     = "127.0.0.1"
	DefaultSignalPort        = "11451"
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultRelayIdleTimeout  = 150 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultSTUNURL           = "stun:stun.l.google.com:19302"
	DefaultFrameRate         = 15
	DefaultBitRate           = 2_000_000
	DefaultTokenTTL          = 24 * time.Hour
)

const (
	envPrefix = "REMOTEDESK_"

	envConfig            = envPrefix + "CONFIG"
	envMode              = envPrefix + "MODE"
	envRelayListen       = envPrefix + "RELAY_LISTEN"
	envRelayIdleTimeout  = envPrefix + "RELAY_IDLE_TIMEOUT"
	envTokenSecret       = envPrefix + "TOKEN_SECRET"
	envTokenTTL          = envPrefix + "TOKEN_TTL"
	envSignalAddress     = envPrefix + "SIGNAL_ADDRESS"
	envSignalPort        = envPrefix + "SIGNAL_PORT"
	envHeartbeatInterval = envPrefix + "HEARTBEAT_INTERVAL"
	envSTUNURLs          = envPrefix + "STUN_URLS"
	envTURNURLs          = envPrefix + "TURN_URLS"
	envTURNUsername      = envPrefix + "TURN_USERNAME"
	envTURNCredential    = envPrefix + "TURN_CREDENTIAL"
	envCapture           = envPrefix + "CAPTURE"
	envDisplay           = envPrefix + "DISPLAY"
	envFrameRate         = envPrefix + "FRAME_RATE"
	envViewer            = envPrefix + "VIEWER"
	envConnectID         = envPrefix + "CONNECT_ID"
	envConnectKey        = envPrefix + "CONNECT_KEY"
	envLogLevel          = envPrefix + "LOG_LEVEL"
	envLogFormat         = envPrefix + "LOG_FORMAT"

	// envLegacyMode is read when REMOTEDESK_MODE is unset.
	envLegacyMode = "MODE"
)

type Config struct {
	Mode    Mode          `yaml:"mode"`
	Relay   RelayConfig   `yaml:"relay"`
	Signal  SignalConfig  `yaml:"signal"`
	ICE     ICEConfig     `yaml:"ice"`
	Capture CaptureConfig `yaml:"capture"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Connect ConnectConfig `yaml:"connect"`
	Log     LogConfig     `yaml:"log"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RelayConfig struct {
	Listen      string        `yaml:"listen"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// TokenSecret, when set, requires a signed bearer token on registration.
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

type SignalConfig struct {
	Address           string        `yaml:"address"`
	Port              string        `yaml:"port"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type ICEConfig struct {
	STUNURLs       []string `yaml:"stun_urls"`
	TURNURLs       []string `yaml:"turn_urls"`
	TURNUsername   string   `yaml:"turn_username"`
	TURNCredential string   `yaml:"turn_credential"`
}

type CaptureConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Display   int     `yaml:"display"`
	FrameRate float64 `yaml:"frame_rate"`
	BitRate   int     `yaml:"bit_rate"`
}

type ViewerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

// ConnectConfig names a peer to request control of right after startup.
type ConnectConfig struct {
	ID  string `yaml:"id"`
	Key string `yaml:"key"`
}

type LogConfig struct {
	Level  string    `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

func Default() Config {
	return Config{
		Mode: ModePeer,
		Relay: RelayConfig{
			Listen:      DefaultRelayListen,
			IdleTimeout: DefaultRelayIdleTimeout,
			TokenTTL:    DefaultTokenTTL,
		},
		Signal: SignalConfig{
			Address:           DefaultSignalAddress,
			Port:              DefaultSignalPort,
			HeartbeatInterval: DefaultHeartbeatInterval,
		},
		ICE: ICEConfig{STUNURLs: []string{DefaultSTUNURL}},
		Capture: CaptureConfig{
			Enabled:   true,
			FrameRate: DefaultFrameRate,
			BitRate:   DefaultBitRate,
		},
		Viewer: ViewerConfig{
			Enabled: true,
			Title:   "remotedesk",
			Width:   1280,
			Height:  720,
		},
		Log:             LogConfig{Level: "info", Format: LogFormatText},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Load builds the configuration from os.Args-style args and the process
// environment.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Default()

	path := envOrDefault(lookup, envConfig, "")
	pre := pflag.NewFlagSet("remotedesk", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.StringVar(&path, "config", path, "")
	pre.BoolP("help", "h", false, "")
	if err := pre.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(lookup, &cfg); err != nil {
		return Config{}, err
	}

	fs := pflag.NewFlagSet("remotedesk", pflag.ContinueOnError)
	fs.String("config", path, "path to a YAML config file")
	bindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func bindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar((*string)(&cfg.Mode), "mode", string(cfg.Mode), "relay or peer")
	fs.StringVar(&cfg.Relay.Listen, "listen", cfg.Relay.Listen, "relay listen address")
	fs.DurationVar(&cfg.Relay.IdleTimeout, "relay-idle-timeout", cfg.Relay.IdleTimeout, "close relay connections idle for this long")
	fs.StringVar(&cfg.Relay.TokenSecret, "token-secret", cfg.Relay.TokenSecret, "shared secret for relay registration tokens")
	fs.DurationVar(&cfg.Relay.TokenTTL, "token-ttl", cfg.Relay.TokenTTL, "lifetime of issued registration tokens")
	fs.StringVar(&cfg.Signal.Address, "relay-address", cfg.Signal.Address, "relay host to connect to")
	fs.StringVar(&cfg.Signal.Port, "relay-port", cfg.Signal.Port, "relay port to connect to")
	fs.DurationVar(&cfg.Signal.HeartbeatInterval, "heartbeat", cfg.Signal.HeartbeatInterval, "liveness interval")
	fs.StringSliceVar(&cfg.ICE.STUNURLs, "stun", cfg.ICE.STUNURLs, "STUN server URLs")
	fs.StringSliceVar(&cfg.ICE.TURNURLs, "turn", cfg.ICE.TURNURLs, "TURN server URLs")
	fs.StringVar(&cfg.ICE.TURNUsername, "turn-username", cfg.ICE.TURNUsername, "TURN username")
	fs.StringVar(&cfg.ICE.TURNCredential, "turn-credential", cfg.ICE.TURNCredential, "TURN credential")
	fs.BoolVar(&cfg.Capture.Enabled, "capture", cfg.Capture.Enabled, "allow this host to be controlled")
	fs.IntVar(&cfg.Capture.Display, "display", cfg.Capture.Display, "display index to share")
	fs.Float64Var(&cfg.Capture.FrameRate, "frame-rate", cfg.Capture.FrameRate, "capture frame rate")
	fs.IntVar(&cfg.Capture.BitRate, "bit-rate", cfg.Capture.BitRate, "video bit rate")
	fs.BoolVar(&cfg.Viewer.Enabled, "viewer", cfg.Viewer.Enabled, "open the viewer window")
	fs.StringVar(&cfg.Connect.ID, "connect-id", cfg.Connect.ID, "account id to request control of")
	fs.StringVar(&cfg.Connect.Key, "connect-key", cfg.Connect.Key, "key of the account to control")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug, info, warn or error")
	fs.StringVar((*string)(&cfg.Log.Format), "log-format", string(cfg.Log.Format), "text or json")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown bound")
}

func applyEnv(lookup func(string) (string, bool), cfg *Config) error {
	if v := envOrDefault(lookup, envMode, envOrDefault(lookup, envLegacyMode, "")); v != "" {
		cfg.Mode = Mode(strings.ToLower(v))
	}
	cfg.Relay.Listen = envOrDefault(lookup, envRelayListen, cfg.Relay.Listen)
	cfg.Relay.TokenSecret = envOrDefault(lookup, envTokenSecret, cfg.Relay.TokenSecret)
	cfg.Signal.Address = envOrDefault(lookup, envSignalAddress, cfg.Signal.Address)
	cfg.Signal.Port = envOrDefault(lookup, envSignalPort, cfg.Signal.Port)
	cfg.ICE.TURNUsername = envOrDefault(lookup, envTURNUsername, cfg.ICE.TURNUsername)
	cfg.ICE.TURNCredential = envOrDefault(lookup, envTURNCredential, cfg.ICE.TURNCredential)
	cfg.Connect.ID = envOrDefault(lookup, envConnectID, cfg.Connect.ID)
	cfg.Connect.Key = envOrDefault(lookup, envConnectKey, cfg.Connect.Key)
	cfg.Log.Level = envOrDefault(lookup, envLogLevel, cfg.Log.Level)
	cfg.Log.Format = LogFormat(envOrDefault(lookup, envLogFormat, string(cfg.Log.Format)))

	if v, ok := lookup(envSTUNURLs); ok {
		cfg.ICE.STUNURLs = splitList(v)
	}
	if v, ok := lookup(envTURNURLs); ok {
		cfg.ICE.TURNURLs = splitList(v)
	}

	var err error
	if cfg.Relay.IdleTimeout, err = envDurationOrDefault(lookup, envRelayIdleTimeout, cfg.Relay.IdleTimeout); err != nil {
		return err
	}
	if cfg.Relay.TokenTTL, err = envDurationOrDefault(lookup, envTokenTTL, cfg.Relay.TokenTTL); err != nil {
		return err
	}
	if cfg.Signal.HeartbeatInterval, err = envDurationOrDefault(lookup, envHeartbeatInterval, cfg.Signal.HeartbeatInterval); err != nil {
		return err
	}
	if cfg.Capture.Enabled, err = envBoolOrDefault(lookup, envCapture, cfg.Capture.Enabled); err != nil {
		return err
	}
	if cfg.Viewer.Enabled, err = envBoolOrDefault(lookup, envViewer, cfg.Viewer.Enabled); err != nil {
		return err
	}
	if cfg.Capture.Display, err = envIntOrDefault(lookup, envDisplay, cfg.Capture.Display); err != nil {
		return err
	}
	if raw, ok := lookup(envFrameRate); ok && strings.TrimSpace(raw) != "" {
		fr, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envFrameRate, raw, err)
		}
		cfg.Capture.FrameRate = fr
	}
	return nil
}

// Validate rejects configurations the process cannot run with.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeRelay, ModePeer:
	default:
		return fmt.Errorf("invalid mode %q (expected relay or peer)", c.Mode)
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("invalid log format %q (expected text or json)", c.Log.Format)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.Relay.TokenSecret != "" && c.Relay.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.Relay.TokenTTL)
	}

	if c.Mode == ModeRelay {
		if c.Relay.Listen == "" {
			return errors.New("relay listen address is required")
		}
		if c.Relay.IdleTimeout <= 0 {
			return fmt.Errorf("relay idle timeout must be positive, got %s", c.Relay.IdleTimeout)
		}
		return nil
	}

	if c.Signal.Address == "" {
		return errors.New("relay address is required")
	}
	if port, err := strconv.Atoi(c.Signal.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid relay port %q", c.Signal.Port)
	}
	if c.Signal.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.Signal.HeartbeatInterval)
	}
	if c.Capture.Display < 0 {
		return fmt.Errorf("display index must not be negative, got %d", c.Capture.Display)
	}
	if c.Capture.Enabled && c.Capture.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %v", c.Capture.FrameRate)
	}
	if (c.Connect.ID == "") != (c.Connect.Key == "") {
		return errors.New("connect id and key must be set together")
	}
	if len(c.ICE.TURNURLs) > 0 && (c.ICE.TURNUsername == "" || c.ICE.TURNCredential == "") {
		return errors.New("turn urls require a username and credential")
	}
	return nil
}

// ICEServers returns the STUN and TURN servers for new peer connections.
func (c Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.ICE.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.ICE.STUNURLs})
	}
	if len(c.ICE.TURNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.ICE.TURNURLs,
			Username:   c.ICE.TURNUsername,
			Credential: c.ICE.TURNCredential,
		})
	}
	return servers
}

func NewLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Log.Format {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Log.Format)
	}
	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
