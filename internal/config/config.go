package config

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common"
	"github.com/gaze-network/coinbase-tracker/internal/postgres"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configOnce sync.Once
	config     = &Config{
		Logger: logger.Config{
			Output: "TEXT",
		},
		Network: common.NetworkMainnet,
		Collector: Collector{
			BatchSize:     1000,
			GenesisHeight: 0,
			MaxRetries:    5,
		},
		Storage: Storage{
			Driver: "sqlite",
			SQLite: SQLite{
				Path: "coinbase_spending.db",
			},
		},
	}
)

type Config struct {
	Logger     logger.Config  `mapstructure:"logger"`
	Network    common.Network `mapstructure:"network"`
	ClickHouse ClickHouse     `mapstructure:"clickhouse"`
	Collector  Collector      `mapstructure:"collector"`
	Storage    Storage        `mapstructure:"storage"`
	Metrics    Metrics        `mapstructure:"metrics"`
}

// ClickHouse points to the warehouse holding the public blockchain dataset.
type ClickHouse struct {
	DSN              string `mapstructure:"dsn"`
	QueriesPerSecond int    `mapstructure:"queries_per_second"`
}

type Collector struct {
	// BatchSize is the number of block heights processed per batch.
	BatchSize int64 `mapstructure:"batch_size"`

	// GenesisHeight is the height collection starts from when the local
	// store has no checkpoint yet.
	GenesisHeight int64 `mapstructure:"genesis_height"`

	// MaxRetries bounds retry attempts per remote query before the run halts.
	MaxRetries uint64 `mapstructure:"max_retries"`
}

type Storage struct {
	// Driver selects the local store backend: "sqlite" or "postgres".
	Driver   string          `mapstructure:"driver"`
	SQLite   SQLite          `mapstructure:"sqlite"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

type SQLite struct {
	Path string `mapstructure:"path"`
}

type Metrics struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
}

// BindPFlag binds a configuration key to a command line flag.
func BindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		logger.Panic("Failed to bind flag to config", slogx.Error(err), slog.String("key", key))
	}
}

// Parse loads the configuration from the given file, environment variables
// and bound flags. An empty path falls back to ./config.yaml. Subsequent
// calls return the first result.
func Parse(configFile string) Config {
	ctx := logger.WithContext(context.Background(), slog.String("package", "config"))
	configOnce.Do(func() {
		// Load .env into the process environment before viper reads it.
		_ = godotenv.Load()

		if configFile != "" {
			viper.SetConfigFile(configFile)
		} else {
			viper.AddConfigPath("./")
			viper.SetConfigName("config")
		}

		viper.AutomaticEnv()
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		if err := viper.ReadInConfig(); err != nil {
			var errNotfound viper.ConfigFileNotFoundError
			if errors.As(err, &errNotfound) {
				logger.WarnContext(ctx, "config file not found, use default value", slogx.Error(err))
			} else {
				logger.PanicContext(ctx, "invalid config file", slogx.Error(err))
			}
		}

		if err := viper.Unmarshal(&config); err != nil {
			logger.PanicContext(ctx, "failed to unmarshal config", slogx.Error(err))
		}
	})

	return *config
}

// Load returns the parsed configuration.
func Load() Config {
	return Parse("")
}
