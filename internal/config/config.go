package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "MOYAMOYA"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "moyamoya.db"
	defaultLogLevel         = "info"
	defaultAIModel          = "gpt-4o-mini"
	defaultAITimeoutSeconds = 120
	defaultErrorTTLMillis   = 5000
	defaultSuccessTTLMillis = 4000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	AIAPIKey  string
	AIBaseURL string
	AIModel   string
	AITimeout time.Duration

	NotifyErrorTTL   time.Duration
	NotifySuccessTTL time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("ai.model", defaultAIModel)
	configViper.SetDefault("ai.base_url", "")
	configViper.SetDefault("ai.timeout_seconds", defaultAITimeoutSeconds)
	configViper.SetDefault("notify.error_ttl_ms", defaultErrorTTLMillis)
	configViper.SetDefault("notify.success_ttl_ms", defaultSuccessTTLMillis)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		AIAPIKey:         configViper.GetString("ai.api_key"),
		AIBaseURL:        configViper.GetString("ai.base_url"),
		AIModel:          configViper.GetString("ai.model"),
		AITimeout:        time.Duration(configViper.GetInt("ai.timeout_seconds")) * time.Second,
		NotifyErrorTTL:   time.Duration(configViper.GetInt("notify.error_ttl_ms")) * time.Millisecond,
		NotifySuccessTTL: time.Duration(configViper.GetInt("notify.success_ttl_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AIAPIKey) == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("ai.timeout_seconds must be positive")
	}
	return nil
}
