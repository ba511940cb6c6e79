package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Redis struct {
		Addr         string `mapstructure:"addr"`
		Password     string `mapstructure:"password"`
		DB           int    `mapstructure:"db"`
		PoolSize     int    `mapstructure:"pool_size"`
		DialSeconds  int    `mapstructure:"dial_seconds"`
		ReadSeconds  int    `mapstructure:"read_seconds"`
		WriteSeconds int    `mapstructure:"write_seconds"`
	} `mapstructure:"redis"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Redis.Addr == "" { c.Redis.Addr = "localhost:6379" }
	if c.Redis.PoolSize == 0 { c.Redis.PoolSize = 10 }
	if c.Redis.DialSeconds <= 0 { c.Redis.DialSeconds = 2 }
	if c.Redis.ReadSeconds <= 0 { c.Redis.ReadSeconds = 1 }
	if c.Redis.WriteSeconds <= 0 { c.Redis.WriteSeconds = 1 }
}

func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.Redis.DialSeconds) * time.Second
}

func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.Redis.ReadSeconds) * time.Second
}

func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.Redis.WriteSeconds) * time.Second
}
