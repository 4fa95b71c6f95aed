package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects which Nexecur cloud protocol the daemon speaks.
const (
	BackendVideofied = "videofied"
	BackendHikvision = "hikvision"
)

// Config holds all application configuration.
type Config struct {
	Backend   string          `yaml:"backend"`
	Videofied VideofiedConfig `yaml:"videofied"`
	Hikvision HikvisionConfig `yaml:"hikvision"`
	Poll      PollConfig      `yaml:"poll"`
	HTTP      HTTPConfig      `yaml:"http"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
}

// VideofiedConfig holds legacy Videofied cloud credentials.
type VideofiedConfig struct {
	APIBase    string `yaml:"api_base"`
	SiteID     string `yaml:"site_id"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// HikvisionConfig holds GuardingVision cloud credentials.
type HikvisionConfig struct {
	APIBase     string `yaml:"api_base"`
	Account     string `yaml:"account"`
	Password    string `yaml:"password"`
	CountryCode string `yaml:"country_code"`
	SSID        string `yaml:"ssid"`
	DeviceName  string `yaml:"device_name"`
}

// PollConfig holds polling cadence configuration.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// UnmarshalYAML accepts Go duration strings ("30s", "2m") for the interval.
func (p *PollConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Interval == "" {
		return nil
	}
	d, err := time.ParseDuration(raw.Interval)
	if err != nil {
		return fmt.Errorf("config: poll interval %q: %w", raw.Interval, err)
	}
	p.Interval = d
	return nil
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	CORSAll bool   `yaml:"cors_allow_all"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceID    string `yaml:"device_id"`
	SiteName    string `yaml:"site_name"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Backend: BackendVideofied,
		Videofied: VideofiedConfig{
			DeviceName: "Home Assistant",
		},
		Hikvision: HikvisionConfig{
			CountryCode: "33",
			DeviceName:  "Home Assistant",
		},
		Poll: PollConfig{
			Interval: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "nexecur",
			DeviceID:    "nexecur_panel_01",
			SiteName:    "Nexecur Alarm",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays
// environment variables. If path is empty, only defaults + env vars are used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendVideofied, BackendHikvision:
		return nil
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NEXECUR_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("NEXECUR_VIDEOFIED_API_BASE"); v != "" {
		cfg.Videofied.APIBase = v
	}
	if v := os.Getenv("NEXECUR_SITE_ID"); v != "" {
		cfg.Videofied.SiteID = v
	}
	if v := os.Getenv("NEXECUR_VIDEOFIED_PASSWORD"); v != "" {
		cfg.Videofied.Password = v
	}
	if v := os.Getenv("NEXECUR_HIKVISION_API_BASE"); v != "" {
		cfg.Hikvision.APIBase = v
	}
	if v := os.Getenv("NEXECUR_ACCOUNT"); v != "" {
		cfg.Hikvision.Account = v
	}
	if v := os.Getenv("NEXECUR_HIKVISION_PASSWORD"); v != "" {
		cfg.Hikvision.Password = v
	}
	if v := os.Getenv("NEXECUR_COUNTRY_CODE"); v != "" {
		cfg.Hikvision.CountryCode = v
	}
	if v := os.Getenv("NEXECUR_SSID"); v != "" {
		cfg.Hikvision.SSID = v
	}
	if v := os.Getenv("NEXECUR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poll.Interval = d
		}
	}
	if v := os.Getenv("NEXECUR_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("NEXECUR_CORS_ALLOW_ALL"); v != "" {
		cfg.HTTP.CORSAll = parseBool(v)
	}
	if v := os.Getenv("NEXECUR_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("NEXECUR_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("NEXECUR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("NEXECUR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("NEXECUR_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("NEXECUR_MQTT_DEVICE_ID"); v != "" {
		cfg.MQTT.DeviceID = v
	}
	if v := os.Getenv("NEXECUR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NEXECUR_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}
