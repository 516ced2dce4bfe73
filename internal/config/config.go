package config

import (
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP listen port.
	Port int `mapstructure:"SR_PORT" validate:"min=1,max=65535"`

	// Lifecycle sweeper knobs.
	RetentionHours       int `mapstructure:"SR_RETENTION_HOURS" validate:"min=1"`
	SweepIntervalMinutes int `mapstructure:"SR_SWEEP_INTERVAL_MINUTES" validate:"min=1"`

	// Media payload size ceiling, enforced before any store mutation.
	MaxPayloadBytes int `mapstructure:"SR_MAX_PAYLOAD_BYTES" validate:"min=1024"`

	// Per-connection outbound buffer; frames are dropped when it is full.
	SendBuffer int `mapstructure:"SR_SEND_BUFFER" validate:"min=1"`
}

// bindEnv binds environment variables from mapstructure tags so AutomaticEnv
// picks them up even without a config file.
func bindEnv(c Config) {
	typ := reflect.TypeOf(c)
	for i := 0; i < typ.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("mapstructure"); tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func Load() (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	viper.SetDefault("SR_PORT", 8080)
	viper.SetDefault("SR_RETENTION_HOURS", 6)
	viper.SetDefault("SR_SWEEP_INTERVAL_MINUTES", 15)
	viper.SetDefault("SR_MAX_PAYLOAD_BYTES", 5<<20)
	viper.SetDefault("SR_SEND_BUFFER", 256)

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	log.Printf("configuration loaded: %+v", cfg)
	return &cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}
