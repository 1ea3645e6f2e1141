package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echostream/codec"

	"github.com/mitchellh/go-homedir"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "echostream.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
listen = "0.0.0.0:7000"
codec = "msgpack"
request_timeout = "250ms"
etcd_endpoints = [" 127.0.0.1:2379 ", ""]
rate_limit = 100.0
rate_burst = 20
log_pretty = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if cfg.Listen != "0.0.0.0:7000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Codec != codec.CodecTypeMsgPack {
		t.Errorf("Codec = %s", cfg.Codec)
	}
	if cfg.RequestTimeout != 250*time.Millisecond {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if cfg.HandlerTimeout != def.HandlerTimeout {
		t.Errorf("HandlerTimeout should keep default %s, got %s", def.HandlerTimeout, cfg.HandlerTimeout)
	}
	if len(cfg.EtcdEndpoints) != 1 || cfg.EtcdEndpoints[0] != "127.0.0.1:2379" {
		t.Errorf("EtcdEndpoints = %v", cfg.EtcdEndpoints)
	}
	if cfg.RateLimit != 100 || cfg.RateBurst != 20 || !cfg.LogPretty {
		t.Errorf("unexpected rate/log settings: %+v", cfg)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()

	writeConfig(t, home, `service_name = "edge"`)
	cfg, err := Load("~/echostream.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServiceName != "edge" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"codec":       `codec = "xml"`,
		"duration":    `request_timeout = "soon"`,
		"nonpositive": `heartbeat_interval = "0s"`,
		"unknown key": `listen_addr = ":1"`,
		"no listener": "listen = \"\"\nws_listen = \"\"",
	}
	for name, body := range cases {
		path := writeConfig(t, t.TempDir(), body)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestValidateRegistrySettings(t *testing.T) {
	cfg := Default()
	cfg.EtcdEndpoints = []string{"127.0.0.1:2379"}
	cfg.RegistryTTL = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "registry_ttl") {
		t.Fatalf("expected registry_ttl error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
