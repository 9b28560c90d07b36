package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"server"`

	Storage struct {
		Backend string `mapstructure:"backend"` // postgres | redis | memory
	} `mapstructure:"storage"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Redis struct {
		URL       string `mapstructure:"url"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Graph struct {
		BaseURL        string  `mapstructure:"base_url"`
		AppID          string  `mapstructure:"app_id"`
		AccessToken    string  `mapstructure:"access_token"`
		TimeoutSeconds int     `mapstructure:"timeout_seconds"`
		RatePerSecond  float64 `mapstructure:"rate_per_second"`
		Burst          int     `mapstructure:"burst"`
	} `mapstructure:"graph"`

	Seed struct {
		File string `mapstructure:"file"` // static rule sets, used when graph.base_url is empty
	} `mapstructure:"seed"`

	Reporter struct {
		Enabled                bool `mapstructure:"enabled"`
		RefreshCooldownHours   int  `mapstructure:"refresh_cooldown_hours"`
		RetentionWindowHours   int  `mapstructure:"retention_window_hours"`
		RetainedConfigsPerMode int  `mapstructure:"retained_configs_per_mode"`
		ReportIntervalSeconds  int  `mapstructure:"report_interval_seconds"`
	} `mapstructure:"reporter"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 2
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "aem:"
	}
	if c.Graph.AppID == "" {
		c.Graph.AppID = "local"
	}
	if c.Graph.TimeoutSeconds <= 0 {
		c.Graph.TimeoutSeconds = 10
	}
	if c.Graph.RatePerSecond <= 0 {
		c.Graph.RatePerSecond = 5
	}
	if c.Graph.Burst <= 0 {
		c.Graph.Burst = 5
	}
	if c.Reporter.RefreshCooldownHours <= 0 {
		c.Reporter.RefreshCooldownHours = 24
	}
	if c.Reporter.RetentionWindowHours <= 0 {
		c.Reporter.RetentionWindowHours = 24
	}
	if c.Reporter.RetainedConfigsPerMode <= 0 {
		c.Reporter.RetainedConfigsPerMode = 1
	}
	if c.Reporter.ReportIntervalSeconds <= 0 {
		c.Reporter.ReportIntervalSeconds = 3600
	}
	if c.Listener.Channel == "" {
		c.Listener.Channel = "aem_config_change"
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) GraphTimeout() time.Duration {
	return time.Duration(c.Graph.TimeoutSeconds) * time.Second
}

func (c Config) RefreshCooldown() time.Duration {
	return time.Duration(c.Reporter.RefreshCooldownHours) * time.Hour
}

func (c Config) RetentionWindow() time.Duration {
	return time.Duration(c.Reporter.RetentionWindowHours) * time.Hour
}

func (c Config) ReportInterval() time.Duration {
	return time.Duration(c.Reporter.ReportIntervalSeconds) * time.Second
}
