package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix matches the backend: AUTOJS_AGENT_DEVICE_CODE sets agent.device_code.
const EnvPrefix = "AUTOJS"

type AppConfig struct {
	BackendURL    string
	DeviceCode    string
	Certificate   string
	AutoJsVersion string
	PollTimeout   time.Duration
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
	// ScriptDuration is how long a simulated execute_script runs.
	ScriptDuration time.Duration
	LogPath        string
	LogLevel       string
}

// Load reads the optional YAML file at path and applies env overrides.
func Load(path string) (AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("agent.backend_url", "http://127.0.0.1:9400")
	v.SetDefault("agent.device_code", "")
	v.SetDefault("agent.certificate", "")
	v.SetDefault("agent.autojs_version", "4.1.1")
	v.SetDefault("agent.poll_timeout", 30*time.Second)
	v.SetDefault("agent.min_backoff", time.Second)
	v.SetDefault("agent.max_backoff", 30*time.Second)
	v.SetDefault("agent.script_duration", 2*time.Second)
	v.SetDefault("agent.log_path", "")
	v.SetDefault("agent.log_level", "info")

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := AppConfig{
		BackendURL:     strings.TrimRight(v.GetString("agent.backend_url"), "/"),
		DeviceCode:     v.GetString("agent.device_code"),
		Certificate:    v.GetString("agent.certificate"),
		AutoJsVersion:  v.GetString("agent.autojs_version"),
		PollTimeout:    v.GetDuration("agent.poll_timeout"),
		MinBackoff:     v.GetDuration("agent.min_backoff"),
		MaxBackoff:     v.GetDuration("agent.max_backoff"),
		ScriptDuration: v.GetDuration("agent.script_duration"),
		LogPath:        v.GetString("agent.log_path"),
		LogLevel:       v.GetString("agent.log_level"),
	}
	if cfg.DeviceCode == "" || cfg.Certificate == "" {
		return AppConfig{}, errors.New("agent.device_code and agent.certificate are required")
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return cfg, nil
}
