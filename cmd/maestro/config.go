package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type logConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type config struct {
	Addr          string        `mapstructure:"addr"`
	MaestrosDir   string        `mapstructure:"maestros_dir"`
	JobsDir       string        `mapstructure:"jobs_dir"`
	OutputDir     string        `mapstructure:"output_dir"`
	LedgerPath    string        `mapstructure:"ledger_path"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Log           logConfig     `mapstructure:"log"`
}

// loadConfig reads config.yaml (or path when set) and MAESTRO_* environment
// overrides, e.g. MAESTRO_LOG_LEVEL for log.level. A missing file leaves the
// defaults in place.
func loadConfig(path string) (config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8421")
	v.SetDefault("maestros_dir", "maestros")
	v.SetDefault("jobs_dir", "jobs")
	v.SetDefault("output_dir", "output")
	v.SetDefault("ledger_path", "maestro.db")
	v.SetDefault("check_interval", "0s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
