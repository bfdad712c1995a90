package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	Identity  int64  `mapstructure:"identity"`
	AuthToken string `mapstructure:"auth_token"`

	APIBaseURL string `mapstructure:"api_base_url"`
	PageSize   int    `mapstructure:"page_size"`

	Transport   string        `mapstructure:"transport"`
	WSURL       string        `mapstructure:"ws_url"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`

	PresenceInterval time.Duration `mapstructure:"presence_interval"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`

	StatePath string `mapstructure:"state_path"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("log_level", "info")
	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("page_size", 20)
	v.SetDefault("transport", "websocket")
	v.SetDefault("ws_url", "ws://localhost:8000/realtime")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("presence_ttl", "30s")
	v.SetDefault("presence_interval", "15s")
	v.SetDefault("call_timeout", "10s")
	v.SetDefault("state_path", "spaces.db")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
