package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig   `json:"basic_config"`
	Mongo       MongoConfig   `json:"mongo"`
	Redis       RedisConfig   `json:"redis"`
	OpenAI      OpenAIConfig  `json:"openai"`
	Tracker     TrackerConfig `json:"tracker"`
	Queues      QueuesConfig  `json:"queues"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Instance distinguishes parallel production deployments sharing
	// one store, e.g. "p2" yields the runtime tag "prod-p2".
	Instance string `json:"instance"`
	// BetaTag selects the runtime partition. Empty or "false" means
	// production, "true" maps to "beta", anything else is used verbatim.
	BetaTag string `json:"beta_tag"`
	// SessionLinkBase is the public URL prefix for session links in
	// notification previews.
	SessionLinkBase string `json:"session_link_base"`
	// MediaBaseURL resolves stored voice file references to a
	// downloadable URL for transcription.
	MediaBaseURL string `json:"media_base_url"`
	// CustomProcessors are declared on every new session ahead of the
	// fixed tail stages.
	CustomProcessors  []string `json:"custom_processors"`
	ProcessingGraceMS int64    `json:"processing_grace_ms"`
}

type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type OpenAIConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type TrackerConfig struct {
	Binary    string `json:"binary"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// QueuesConfig sets per-queue consumer concurrency. Zero means default.
type QueuesConfig struct {
	Common         int `json:"common"`
	Voice          int `json:"voice"`
	Processors     int `json:"processors"`
	Postprocessors int `json:"postprocessors"`
	Events         int `json:"events"`
	Notifies       int `json:"notifies"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Mongo.URI == "" {
		return nil, fmt.Errorf("mongo.uri must be configured")
	}
	if cfg.Mongo.Database == "" {
		return nil, fmt.Errorf("mongo.database must be configured")
	}

	if cfg.Tracker.Binary == "" {
		cfg.Tracker.Binary = "bd"
	}
	if cfg.Tracker.TimeoutMS <= 0 {
		cfg.Tracker.TimeoutMS = 20000
	}
	if cfg.BasicConfig.ProcessingGraceMS <= 0 {
		cfg.BasicConfig.ProcessingGraceMS = 15 * 60 * 1000
	}

	return &cfg, nil
}

// Env overrides let deployments retarget a single knob without editing
// the config file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("VOICEDESK_BETA"); ok {
		cfg.BasicConfig.BetaTag = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("TRACKER_BIN"); v != "" {
		cfg.Tracker.Binary = v
	}
	if v := os.Getenv("PROCESSING_GRACE_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.BasicConfig.ProcessingGraceMS = ms
		}
	}
	overrideInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	overrideInt("QUEUE_COMMON_CONCURRENCY", &cfg.Queues.Common)
	overrideInt("QUEUE_VOICE_CONCURRENCY", &cfg.Queues.Voice)
	overrideInt("QUEUE_PROCESSORS_CONCURRENCY", &cfg.Queues.Processors)
	overrideInt("QUEUE_POSTPROCESSORS_CONCURRENCY", &cfg.Queues.Postprocessors)
	overrideInt("QUEUE_EVENTS_CONCURRENCY", &cfg.Queues.Events)
	overrideInt("QUEUE_NOTIFIES_CONCURRENCY", &cfg.Queues.Notifies)
}
