// Package config loads the client configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// StreamKind selects the push-channel transport.
const (
	StreamWebSocket = "websocket"
	StreamNATS      = "nats"
)

// Config is the room client configuration.
type Config struct {
	API struct {
		BaseURL   string `yaml:"base_url"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"api"`

	Stream struct {
		Kind          string `yaml:"kind"` // websocket or nats
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"stream"`

	Audio struct {
		SignalURL  string   `yaml:"signal_url"`
		ICEServers []string `yaml:"ice_servers"`
	} `yaml:"audio"`

	AccountID string `yaml:"account_id"`
	AudioUID  uint32 `yaml:"audio_uid"`
}

// Load reads the YAML file at path (skipped when empty) and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	cfg.Stream.Kind = StreamWebSocket
	cfg.Stream.SubjectPrefix = "rooms"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.API.BaseURL = getEnv("MATCHTALK_API_URL", cfg.API.BaseURL)
	cfg.API.AuthToken = getEnv("MATCHTALK_AUTH_TOKEN", cfg.API.AuthToken)
	cfg.Stream.Kind = getEnv("MATCHTALK_STREAM_KIND", cfg.Stream.Kind)
	cfg.Stream.URL = getEnv("MATCHTALK_STREAM_URL", cfg.Stream.URL)
	cfg.Stream.SubjectPrefix = getEnv("MATCHTALK_SUBJECT_PREFIX", cfg.Stream.SubjectPrefix)
	cfg.Audio.SignalURL = getEnv("MATCHTALK_AUDIO_SIGNAL_URL", cfg.Audio.SignalURL)
	cfg.AccountID = getEnv("MATCHTALK_ACCOUNT_ID", cfg.AccountID)
	cfg.AudioUID = uint32(getEnvAsInt("MATCHTALK_AUDIO_UID", int(cfg.AudioUID)))

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("api base URL is required (MATCHTALK_API_URL)")
	}
	if cfg.Stream.Kind != StreamWebSocket && cfg.Stream.Kind != StreamNATS {
		return nil, fmt.Errorf("unknown stream kind: %s", cfg.Stream.Kind)
	}

	return &cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
