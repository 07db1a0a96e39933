// Package config 加载 YAML 配置，环境变量 CONSUME_* 可覆盖任意键
// 例如 CONSUME_DATABASE_DSN 覆盖 database.dsn
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xxz807/finscale/consume/internal/platform/database"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     database.Config    `mapstructure:"database"`
	Consume      ConsumeConfig      `mapstructure:"consume"`
	Compensation CompensationConfig `mapstructure:"compensation"`
	Subsidy      SubsidyConfig      `mapstructure:"subsidy"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug | release
}

type ConsumeConfig struct {
	LookupTimeout  time.Duration `mapstructure:"lookup_timeout"`
	UserServiceURL string        `mapstructure:"user_service_url"` // 为空则不补全用户名
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type CompensationConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type SubsidyConfig struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.log_sql", false)
	v.SetDefault("consume.lookup_timeout", 2*time.Second)
	v.SetDefault("consume.user_service_url", "")
	v.SetDefault("consume.retry_attempts", 3)
	v.SetDefault("consume.retry_backoff", 100*time.Millisecond)
	v.SetDefault("compensation.sweep_interval", time.Minute)
	v.SetDefault("compensation.batch_size", 100)
	v.SetDefault("subsidy.gateway_url", "")
	v.SetDefault("subsidy.timeout", 3*time.Second)
}

// Load 读取配置文件，path 为空时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONSUME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
