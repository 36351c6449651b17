// Package config loads server configuration from an optional YAML file,
// environment variables and built-in defaults.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

var ErrParse = errors.New("unable to parse config")

type Config struct {
	Host         string `mapstructure:"host"`
	RegistryPort int    `mapstructure:"registry_port"`
	RoomBasePort int    `mapstructure:"room_base_port"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	SampleRate   int    `mapstructure:"sample_rate"`
	Channels     int    `mapstructure:"channels"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	LogLevel     string `mapstructure:"log_level"`
}

// Load reads configuration from path if given, falling back to built-in
// defaults otherwise. Every key can be overridden through a
// VOICECHAT_-prefixed environment variable.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("registry_port", 8000)
	v.SetDefault("room_base_port", 8000)
	v.SetDefault("chunk_size", 1<<19)
	v.SetDefault("sample_rate", 44100)
	v.SetDefault("channels", 2)
	v.SetDefault("queue_depth", 64)
	v.SetDefault("log_level", "debug")

	v.SetEnvPrefix("voicechat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Join(ErrParse, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Join(ErrParse, err)
	}
	return &cfg, nil
}
