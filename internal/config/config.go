// This file defines the configuration structure for the jobwatch binaries.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/journi/jobwatch/internal/progress"
)

// Config holds all configuration settings for the CLI and the devserver.
// It maps directly to the structure of config.yml.
type Config struct {
	BackendURL string `mapstructure:"backend_url"`
	SocketURL  string `mapstructure:"socket_url"`
	Token      string `mapstructure:"token"`
	TokenFile  string `mapstructure:"token_file"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Progress struct {
		OpenTimeout       time.Duration `mapstructure:"open_timeout"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		PongTimeout       time.Duration `mapstructure:"pong_timeout"`
		Reconnect         struct {
			Base        time.Duration `mapstructure:"base"`
			Multiplier  float64       `mapstructure:"multiplier"`
			Cap         time.Duration `mapstructure:"cap"`
			MaxAttempts int           `mapstructure:"max_attempts"`
		} `mapstructure:"reconnect"`
		PollInterval    time.Duration `mapstructure:"poll_interval"`
		RequestTimeout  time.Duration `mapstructure:"request_timeout"`
		DisconnectAfter int           `mapstructure:"disconnect_after"`
	} `mapstructure:"progress"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Devserver struct {
		Port         int           `mapstructure:"port"`
		StepInterval time.Duration `mapstructure:"step_interval"`
	} `mapstructure:"devserver"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Load reads configuration from configFile, or from "config.yml" in the
// current directory when configFile is empty, and unmarshals it into a
// Config struct. A missing config.yml is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
	}

	// JOBWATCH_PROGRESS_POLL_INTERVAL overrides `progress.poll_interval`.
	v.SetEnvPrefix("JOBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := progress.DefaultConfig()
	v.SetDefault("backend_url", "http://localhost:8000")
	v.SetDefault("socket_url", "")
	v.SetDefault("token", "")
	v.SetDefault("token_file", "")
	v.SetDefault("database.path", "./jobwatch.db")
	v.SetDefault("progress.open_timeout", d.OpenTimeout)
	v.SetDefault("progress.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("progress.pong_timeout", d.PongTimeout)
	v.SetDefault("progress.reconnect.base", d.ReconnectBase)
	v.SetDefault("progress.reconnect.multiplier", d.ReconnectMultiplier)
	v.SetDefault("progress.reconnect.cap", d.ReconnectCap)
	v.SetDefault("progress.reconnect.max_attempts", d.MaxReconnectAttempts)
	v.SetDefault("progress.poll_interval", d.PollInterval)
	v.SetDefault("progress.request_timeout", d.RequestTimeout)
	v.SetDefault("progress.disconnect_after", d.DisconnectAfter)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("devserver.port", 8000)
	v.SetDefault("devserver.step_interval", 2*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ProgressConfig returns the progress client settings.
func (c *Config) ProgressConfig() progress.Config {
	return progress.Config{
		BackendURL:           c.BackendURL,
		SocketURL:            c.SocketURL,
		OpenTimeout:          c.Progress.OpenTimeout,
		HeartbeatInterval:    c.Progress.HeartbeatInterval,
		PongTimeout:          c.Progress.PongTimeout,
		ReconnectBase:        c.Progress.Reconnect.Base,
		ReconnectMultiplier:  c.Progress.Reconnect.Multiplier,
		ReconnectCap:         c.Progress.Reconnect.Cap,
		MaxReconnectAttempts: c.Progress.Reconnect.MaxAttempts,
		PollInterval:         c.Progress.PollInterval,
		RequestTimeout:       c.Progress.RequestTimeout,
		DisconnectAfter:      c.Progress.DisconnectAfter,
	}
}
