package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/simbridge/internal/bridge"
	"github.com/danmuck/simbridge/internal/protocol/session"
)

// bridgectl config.toml key mapping to client settings.
type fileConfig struct {
	ServerHost          string   `toml:"server_host"`
	ServerPort          int      `toml:"server_port"`
	ClientPort          int      `toml:"client_port"`
	Transport           string   `toml:"transport"`
	WSPath              string   `toml:"ws_path"`
	WorldName           string   `toml:"world_name"`
	SimulationName      string   `toml:"simulation_name"`
	UpdateRate          float64  `toml:"update_rate"`
	FrameRate           float64  `toml:"frame_rate"`
	APICallbacksEnabled bool     `toml:"api_callbacks_enabled"`
	APICallbacksRate    float64  `toml:"api_callbacks_rate"`
	MaxConnectAttempts  int      `toml:"max_connect_attempts"`
	ConnectTimeout      string   `toml:"connect_timeout"`
	HandshakeTimeout    string   `toml:"handshake_timeout"`
	NegotiateTimeout    string   `toml:"negotiate_timeout"`
	ReadTimeout         string   `toml:"read_timeout"`
	WriteTimeout        string   `toml:"write_timeout"`
	SecurityMode        string   `toml:"security_mode"`
	AdminAddr           string   `toml:"admin_addr"`
	AdminToken          string   `toml:"admin_token"`
	CorsOrigins         []string `toml:"cors_origins"`
	Manifest            string   `toml:"manifest"`
	TLS                 fileTLS  `toml:"tls"`
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type runConfig struct {
	Bridge       bridge.Config
	FrameRate    float64
	AdminAddr    string
	AdminToken   string
	CorsOrigins  []string
	ManifestPath string
}

func defaultRunConfig() runConfig {
	return runConfig{
		Bridge:       bridge.DefaultConfig(),
		FrameRate:    bridge.DefaultFrameRate,
		AdminAddr:    "127.0.0.1:9180",
		ManifestPath: "scene.toml",
	}
}

// loadRunConfig overlays the keys present in path onto the defaults. A
// relative manifest path is resolved against the config file's directory.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load bridge config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("load bridge config: unknown key %q", undecoded[0].String())
	}

	b := &cfg.Bridge
	if meta.IsDefined("server_host") {
		b.ServerHost = strings.TrimSpace(raw.ServerHost)
	}
	if meta.IsDefined("server_port") {
		b.ServerPort = raw.ServerPort
	}
	if meta.IsDefined("client_port") {
		b.ClientPort = raw.ClientPort
	}
	if meta.IsDefined("transport") {
		b.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("ws_path") {
		b.WebSocketPath = strings.TrimSpace(raw.WSPath)
	}
	if meta.IsDefined("world_name") {
		b.WorldName = strings.TrimSpace(raw.WorldName)
	}
	if meta.IsDefined("simulation_name") {
		b.SimulationName = strings.TrimSpace(raw.SimulationName)
	}
	if meta.IsDefined("update_rate") {
		b.UpdateRate = raw.UpdateRate
	}
	if meta.IsDefined("frame_rate") {
		cfg.FrameRate = raw.FrameRate
	}
	if meta.IsDefined("api_callbacks_enabled") {
		b.APICallbacksEnabled = raw.APICallbacksEnabled
	}
	if meta.IsDefined("api_callbacks_rate") {
		b.APICallbacksRate = raw.APICallbacksRate
	}
	if meta.IsDefined("max_connect_attempts") {
		b.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &b.Session.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &b.Session.HandshakeTimeout},
		{"negotiate_timeout", raw.NegotiateTimeout, &b.Session.NegotiateTimeout},
		{"read_timeout", raw.ReadTimeout, &b.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &b.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if meta.IsDefined("security_mode") {
		b.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls") {
		b.Session.TLS = session.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			Mutual:             raw.TLS.Mutual,
			CAFile:             resolvePath(path, raw.TLS.CAFile),
			CertFile:           resolvePath(path, raw.TLS.CertFile),
			KeyFile:            resolvePath(path, raw.TLS.KeyFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("manifest") {
		cfg.ManifestPath = strings.TrimSpace(raw.Manifest)
	}
	cfg.ManifestPath = resolvePath(path, cfg.ManifestPath)

	if cfg.FrameRate <= 0 {
		return runConfig{}, fmt.Errorf("load bridge config: frame_rate must be positive, got %v", cfg.FrameRate)
	}
	if err := b.Validate(); err != nil {
		return runConfig{}, fmt.Errorf("load bridge config: %w", err)
	}
	if err := b.Session.ValidateClientTransport(); err != nil {
		return runConfig{}, fmt.Errorf("load bridge config: %w", err)
	}
	b.Session = b.Session.WithDefaults()
	return cfg, nil
}

func resolvePath(configPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
