package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string        `json:"log_level" yaml:"log_level"`
	LogFormat string        `json:"log_format" yaml:"log_format"`
	Gateway   GatewayConfig `json:"gateway" yaml:"gateway"`
	Monitor   MonitorConfig `json:"monitor" yaml:"monitor"`
	API       APIConfig     `json:"api" yaml:"api"`
	Ingest    IngestConfig  `json:"ingest" yaml:"ingest"`
	Storage   StorageConfig `json:"storage" yaml:"storage"`
	Cache     CacheConfig   `json:"cache" yaml:"cache"`
}

type GatewayConfig struct {
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`
}

type MonitorConfig struct {
	RefreshInterval       time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
	TelemetryRefreshDelay time.Duration `json:"telemetry_refresh_delay" yaml:"telemetry_refresh_delay"`
	RecentAlertsLimit     int           `json:"recent_alerts_limit" yaml:"recent_alerts_limit"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type IngestConfig struct {
	ChannelBuffer   int             `json:"channel_buffer" yaml:"channel_buffer"`
	Workers         int             `json:"workers" yaml:"workers"`
	DedupeWindow    time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	PatientCooldown time.Duration   `json:"patient_cooldown" yaml:"patient_cooldown"`
	REST            RESTConfig      `json:"rest" yaml:"rest"`
	Kafka           KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT            MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	TCPStream       TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail        FileTailConfig  `json:"file_tail" yaml:"file_tail"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Retain  int    `json:"retain" yaml:"retain"`
}

type CacheConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Gateway: GatewayConfig{
			BaseURL:   "http://localhost:5000/api",
			Timeout:   10 * time.Second,
			UserAgent: "vitalwatch",
		},
		Monitor: MonitorConfig{
			RefreshInterval:       10 * time.Second,
			TelemetryRefreshDelay: 1 * time.Second,
			RecentAlertsLimit:     500,
		},
		API: APIConfig{Enabled: true, Addr: ":8081"},
		Ingest: IngestConfig{
			ChannelBuffer:   1000,
			Workers:         4,
			DedupeWindow:    2 * time.Second,
			PatientCooldown: 0,
			REST:            RESTConfig{Enabled: false, Addr: ":8082"},
			Kafka:           KafkaConfig{Enabled: false, Topic: "vitals.telemetry", GroupID: "vitalwatch"},
			MQTT:            MQTTConfig{Enabled: false, Broker: "tcp://localhost:1883", ClientID: "vitalwatch", Topic: "ward/patients/+/vitals", QoS: 1},
			TCPStream:       TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:        FileTailConfig{Enabled: false, StartAtEnd: true},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:vitalwatch.db?_pragma=busy_timeout(5000)", Retain: 100},
		Cache:   CacheConfig{Enabled: false, Addr: "localhost:6379", KeyPrefix: "vitalwatch:", TTL: 5 * time.Minute},
	}
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return nil, fmt.Errorf("config %s is empty", path)
	}
	cfg := DefaultConfig()
	if looksLikeJSON(trimmed) {
		err = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	marshal := yaml.Marshal
	if strings.EqualFold(filepath.Ext(path), ".json") {
		marshal = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	data, err := marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{")
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.UserAgent == "" {
		cfg.Gateway.UserAgent = "vitalwatch"
	}
	if cfg.Monitor.RefreshInterval <= 0 {
		cfg.Monitor.RefreshInterval = 10 * time.Second
	}
	if cfg.Monitor.TelemetryRefreshDelay < 0 {
		cfg.Monitor.TelemetryRefreshDelay = 1 * time.Second
	}
	if cfg.Monitor.RecentAlertsLimit <= 0 {
		cfg.Monitor.RecentAlertsLimit = 500
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.MQTT.ClientID == "" {
		cfg.Ingest.MQTT.ClientID = "vitalwatch"
	}
	if cfg.Storage.Retain <= 0 {
		cfg.Storage.Retain = 100
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "vitalwatch:"
	}
}

func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		return errors.New("gateway.base_url required")
	}
	if u, err := url.Parse(cfg.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway.base_url is not an absolute url: %q", cfg.Gateway.BaseURL)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires broker and topic")
		}
		if cfg.Ingest.MQTT.QoS > 2 {
			return fmt.Errorf("ingest.mqtt.qos must be 0, 1 or 2: %d", cfg.Ingest.MQTT.QoS)
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
		}
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return errors.New("cache.addr required when cache.enabled is true")
	}
	if cfg.Ingest.DedupeWindow < 0 || cfg.Ingest.PatientCooldown < 0 {
		return errors.New("ingest.dedupe_window and ingest.patient_cooldown must be >= 0")
	}
	return nil
}
