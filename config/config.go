// Package config loads echostream runtime settings from a TOML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"echostream/codec"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
)

// Config is the resolved runtime configuration. Zero durations are never valid after Load.
type Config struct {
	Listen            string
	WSListen          string
	Codec             codec.CodecType
	RequestTimeout    time.Duration
	HandlerTimeout    time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration

	ServiceName   string
	AdvertiseAddr string
	EtcdEndpoints []string
	RegistryTTL   int64

	MetricsAddr string
	RateLimit   float64
	RateBurst   int

	LogLevel  string
	LogPretty bool
}

type fileConfig struct {
	Listen            string   `toml:"listen"`
	WSListen          string   `toml:"ws_listen"`
	Codec             string   `toml:"codec"`
	RequestTimeout    string   `toml:"request_timeout"`
	HandlerTimeout    string   `toml:"handler_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
	ServiceName       string   `toml:"service_name"`
	AdvertiseAddr     string   `toml:"advertise_addr"`
	EtcdEndpoints     []string `toml:"etcd_endpoints"`
	RegistryTTL       int64    `toml:"registry_ttl"`
	MetricsAddr       string   `toml:"metrics_addr"`
	RateLimit         float64  `toml:"rate_limit"`
	RateBurst         int      `toml:"rate_burst"`
	LogLevel          string   `toml:"log_level"`
	LogPretty         bool     `toml:"log_pretty"`
}

func Default() Config {
	return Config{
		Listen:            "127.0.0.1:9000",
		Codec:             codec.CodecTypeBinary,
		RequestTimeout:    5 * time.Second,
		HandlerTimeout:    10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		ServiceName:       "echostream",
		RegistryTTL:       10,
		LogLevel:          "info",
	}
}

// Load reads path (with ~ expanded) and overlays the keys it defines on Default().
func Load(path string) (Config, error) {
	cfg := Default()

	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("expand config path: %w", err)
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(expanded, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("ws_listen") {
		cfg.WSListen = strings.TrimSpace(raw.WSListen)
	}
	if meta.IsDefined("codec") {
		ct, err := codec.ParseCodecType(raw.Codec)
		if err != nil {
			return Config{}, err
		}
		cfg.Codec = ct
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"handler_timeout", raw.HandlerTimeout, &cfg.HandlerTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("service_name") {
		cfg.ServiceName = strings.TrimSpace(raw.ServiceName)
	}
	if meta.IsDefined("advertise_addr") {
		cfg.AdvertiseAddr = strings.TrimSpace(raw.AdvertiseAddr)
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = normalizeList(raw.EtcdEndpoints)
	}
	if meta.IsDefined("registry_ttl") {
		cfg.RegistryTTL = raw.RegistryTTL
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_pretty") {
		cfg.LogPretty = raw.LogPretty
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot start with.
func (c Config) Validate() error {
	if c.Listen == "" && c.WSListen == "" {
		return fmt.Errorf("config: at least one of listen or ws_listen is required")
	}
	if !c.Codec.Valid() {
		return fmt.Errorf("config: unsupported codec %d", c.Codec)
	}
	for name, d := range map[string]time.Duration{
		"request_timeout":    c.RequestTimeout,
		"handler_timeout":    c.HandlerTimeout,
		"heartbeat_interval": c.HeartbeatInterval,
		"shutdown_timeout":   c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if len(c.EtcdEndpoints) > 0 {
		if c.ServiceName == "" {
			return fmt.Errorf("config: service_name is required when etcd_endpoints is set")
		}
		if c.RegistryTTL <= 0 {
			return fmt.Errorf("config: registry_ttl must be positive, got %d", c.RegistryTTL)
		}
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("config: rate_limit and rate_burst must not be negative")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
