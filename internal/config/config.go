// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatcher and target binaries.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints" validate:"required_if=Storage etcd"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	Storage           string        `mapstructure:"storage" validate:"oneof=etcd memory"`
	KeyPrefix         string        `mapstructure:"key_prefix" validate:"required,startswith=/"`
	HttpListenAddr    string        `mapstructure:"http_listen_addr" validate:"required"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1s"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	EventHistory      int           `mapstructure:"event_history" validate:"gte=1"`

	// DriverRateLimit caps /upkeep requests per caller per minute; 0 disables it.
	DriverRateLimit int `mapstructure:"driver_rate_limit" validate:"gte=0"`
	DriverRateBurst int `mapstructure:"driver_rate_burst" validate:"gte=0"`

	Upkeep   UpkeepConfig   `mapstructure:"upkeep"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Target   TargetConfig   `mapstructure:"target"`
}

// UpkeepConfig seeds the dispatch state on first start. Once a state is
// persisted, driver and min wait period are changed through the admin API.
type UpkeepConfig struct {
	Owner         string        `mapstructure:"owner" validate:"required"`
	Driver        string        `mapstructure:"driver" validate:"required"`
	MinWaitPeriod time.Duration `mapstructure:"min_wait_period" validate:"gte=0"`
	Schedule      string        `mapstructure:"schedule" validate:"required,cron"`
}

type DispatchConfig struct {
	TargetTimeout time.Duration `mapstructure:"target_timeout" validate:"gt=0"`
	Concurrency   int           `mapstructure:"concurrency" validate:"gte=1,lte=256"`
}

// TargetConfig configures the reference target node.
type TargetConfig struct {
	Name           string `mapstructure:"name"`
	GrpcListenAddr string `mapstructure:"grpc_listen_addr" validate:"required"`
	HttpListenAddr string `mapstructure:"http_listen_addr" validate:"required"`
	FailEvery      int    `mapstructure:"fail_every" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("storage", "etcd")
	v.SetDefault("key_prefix", "/upkeep")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("leader_election_ttl", "10s")
	v.SetDefault("tracing_enabled", true)
	v.SetDefault("event_history", 256)
	v.SetDefault("driver_rate_limit", 120)
	v.SetDefault("driver_rate_burst", 10)

	v.SetDefault("upkeep.owner", "owner")
	v.SetDefault("upkeep.driver", "cron")
	v.SetDefault("upkeep.min_wait_period", "1h")
	v.SetDefault("upkeep.schedule", "0 * * * * *")

	v.SetDefault("dispatch.target_timeout", "30s")
	v.SetDefault("dispatch.concurrency", 1)

	v.SetDefault("target.grpc_listen_addr", ":50051")
	v.SetDefault("target.http_listen_addr", ":8081")
	v.SetDefault("target.fail_every", 0)
}

// Load loads configuration from defaults, an optional config.yaml and
// UPKEEP_ prefixed environment variables, in increasing precedence.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("UPKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints. Schedules use the six-field form with
// seconds, or a descriptor such as @every 1m.
func (c *Config) Validate() error {
	validate := validator.New()
	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		_, err := parser.Parse(fl.Field().String())
		return err == nil
	})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
