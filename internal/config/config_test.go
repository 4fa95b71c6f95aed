package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Backend != BackendVideofied {
		t.Errorf("default backend = %q, want videofied", cfg.Backend)
	}
	if cfg.Poll.Interval != 30*time.Second {
		t.Errorf("default poll interval = %v, want 30s", cfg.Poll.Interval)
	}
	if cfg.Hikvision.CountryCode != "33" {
		t.Errorf("default country code = %q, want 33", cfg.Hikvision.CountryCode)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexecurd.yaml")
	data := `
backend: hikvision
hikvision:
  account: user@example.com
  password: hunter2
  country_code: "44"
poll:
  interval: 45s
mqtt:
  enabled: true
  broker: tcp://localhost:1883
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendHikvision {
		t.Errorf("backend = %q, want hikvision", cfg.Backend)
	}
	if cfg.Hikvision.Account != "user@example.com" {
		t.Errorf("account = %q", cfg.Hikvision.Account)
	}
	if cfg.Hikvision.CountryCode != "44" {
		t.Errorf("country code = %q, want 44", cfg.Hikvision.CountryCode)
	}
	if cfg.Poll.Interval != 45*time.Second {
		t.Errorf("poll interval = %v, want 45s", cfg.Poll.Interval)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http addr = %q, want :8080", cfg.HTTP.Addr)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendVideofied {
		t.Errorf("backend = %q, want videofied default", cfg.Backend)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexecurd.yaml")
	data := `
backend: videofied
videofied:
  site_id: from-file
poll:
  interval: 45s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NEXECUR_BACKEND", " Hikvision ")
	t.Setenv("NEXECUR_SITE_ID", "from-env")
	t.Setenv("NEXECUR_POLL_INTERVAL", "10s")
	t.Setenv("NEXECUR_MQTT_ENABLED", "TRUE")
	t.Setenv("NEXECUR_CORS_ALLOW_ALL", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendHikvision {
		t.Errorf("backend = %q, env must win and be normalized", cfg.Backend)
	}
	if cfg.Videofied.SiteID != "from-env" {
		t.Errorf("site id = %q, want from-env", cfg.Videofied.SiteID)
	}
	if cfg.Poll.Interval != 10*time.Second {
		t.Errorf("poll interval = %v, want 10s", cfg.Poll.Interval)
	}
	if !cfg.MQTT.Enabled {
		t.Error("NEXECUR_MQTT_ENABLED=TRUE must enable mqtt")
	}
	if !cfg.HTTP.CORSAll {
		t.Error("NEXECUR_CORS_ALLOW_ALL=1 must enable CORS")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("NEXECUR_BACKEND", "ajax")
	if _, err := Load(""); err == nil {
		t.Fatal("unknown backend must be rejected")
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"1", "true", "TRUE", " t "} {
		if !parseBool(s) {
			t.Errorf("parseBool(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"0", "false", "", "yes"} {
		if parseBool(s) {
			t.Errorf("parseBool(%q) = true, want false", s)
		}
	}
}
