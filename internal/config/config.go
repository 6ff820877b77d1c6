// Package config loads server settings from defaults, an optional YAML file
// and STOCKLEDGER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "STOCKLEDGER"
	configFileName = "stockledger"
	configFileType = "yaml"

	KeyHTTPAddr        = "http.addr"
	KeyGRPCAddr        = "grpc.addr"
	KeyDBDriver        = "database.driver"
	KeyDBDSN           = "database.dsn"
	KeyDBMaxOpenConns  = "database.max_open_conns"
	KeyRedisAddr       = "redis.addr"
	KeyFeedBuffer      = "feed.buffer"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyShutdownTimeout = "shutdown.timeout"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	DBDriver        string
	DBDSN           string
	DBMaxOpenConns  int
	RedisAddr       string
	FeedBuffer      int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyGRPCAddr, ":50051")
	v.SetDefault(KeyDBDriver, DriverSQLite)
	v.SetDefault(KeyDBDSN, "stockledger.db")
	v.SetDefault(KeyDBMaxOpenConns, 100)
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyFeedBuffer, 64)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyShutdownTimeout, 5*time.Second)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or stockledger.yaml from the working directory when
// configFile is empty. A missing default file is not an error.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		HTTPAddr:        v.GetString(KeyHTTPAddr),
		GRPCAddr:        v.GetString(KeyGRPCAddr),
		DBDriver:        strings.ToLower(v.GetString(KeyDBDriver)),
		DBDSN:           v.GetString(KeyDBDSN),
		DBMaxOpenConns:  v.GetInt(KeyDBMaxOpenConns),
		RedisAddr:       v.GetString(KeyRedisAddr),
		FeedBuffer:      v.GetInt(KeyFeedBuffer),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("database.dsn must be set")
	}
	if c.FeedBuffer <= 0 {
		return fmt.Errorf("feed.buffer must be positive, got %d", c.FeedBuffer)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", s)
	}
	return level, nil
}
