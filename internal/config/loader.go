package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Settings is the platform connection and run configuration.
type Settings struct {
	ServerURL string
	Username  string
	Password  string
	Timeout   time.Duration
	OutputDir string
}

// DefaultSettings returns the baseline configuration.
func DefaultSettings() Settings {
	return Settings{
		Timeout: 30 * time.Second,
	}
}

// Load reads config.yaml from the given path, with IASO_* environment
// variables overriding file values (IASO_SERVER_URL, IASO_USERNAME, ...).
func Load(configPath string) (Settings, error) {
	cfg := DefaultSettings()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvPrefix("IASO")

	v.BindEnv("server_url")
	v.BindEnv("username")
	v.BindEnv("password")
	v.BindEnv("timeout")
	v.BindEnv("output_dir")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, err
		}
		// No config file; env vars and flags carry the configuration.
	}

	if v.IsSet("server_url") {
		cfg.ServerURL = v.GetString("server_url")
	}
	if v.IsSet("username") {
		cfg.Username = v.GetString("username")
	}
	if v.IsSet("password") {
		cfg.Password = v.GetString("password")
	}
	if v.IsSet("timeout") {
		cfg.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("output_dir") {
		cfg.OutputDir = v.GetString("output_dir")
	}

	return cfg, nil
}
