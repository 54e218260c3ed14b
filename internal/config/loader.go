package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/dealreport/internal/db"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. REPORTING_DATABASE_HOST.
const EnvPrefix = "REPORTING"

type Config struct {
	Database db.Config    `mapstructure:"database"`
	Server   ServerConfig `mapstructure:"server"`
	Redis    RedisConfig  `mapstructure:"redis"`
	Log      LogConfig    `mapstructure:"log"`
	Engine   EngineConfig `mapstructure:"engine"`

	// ConfigFile is the file that was read, empty when only defaults and env applied.
	ConfigFile string `mapstructure:"-"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RedisConfig enables the preview cache and execution lock. Both are skipped when disabled.
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	PreviewTTL time.Duration `mapstructure:"preview_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineConfig struct {
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.name", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)
	v.SetDefault("database.min_conns", dbDefaults.MinConns)
	v.SetDefault("database.max_conn_lifetime", dbDefaults.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", dbDefaults.MaxConnIdleTime)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 5*time.Minute)
	v.SetDefault("redis.preview_ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.statement_timeout", 2*time.Minute)
}

// Load reads config.yaml from configPath when present, then applies REPORTING_*
// environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.ConfigFile = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Database.Host == "" || c.Database.DBName == "" {
		return errors.New("database host and name are required")
	}
	if c.Database.Port <= 0 {
		return fmt.Errorf("database port must be positive, got %d", c.Database.Port)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis addr is required when redis is enabled")
	}
	return nil
}
