package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreDriverMemory   = "memory"
	StoreDriverFile     = "file"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

// Config represents the hopper daemon configuration
type Config struct {
	Server     ServerConfig             `yaml:"server"`
	Logging    LoggingConfig            `yaml:"logging"`
	Monitoring MonitoringConfig         `yaml:"monitoring"`
	Store      StoreConfig              `yaml:"store"`
	Database   DatabaseConfig           `yaml:"database"`
	Redis      RedisConfig              `yaml:"redis"`
	Networks   map[string]NetworkConfig `yaml:"networks" validate:"dive"`
	Chain      ChainConfig              `yaml:"chain"`
	Engine     EngineConfig             `yaml:"engine"`
	Quote      QuoteConfig              `yaml:"quote"`
	Wallet     WalletConfig             `yaml:"wallet"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// StoreConfig selects the persistence backend for transfers
type StoreConfig struct {
	Driver string `yaml:"driver" default:"file" validate:"oneof=memory file redis postgres"`
	// Dir is used by the file driver.
	Dir string `yaml:"dir" default:"./data"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"usdc_hopper"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`

	MaxOpenConns int           `yaml:"max_open_conns" default:"4" validate:"min=1"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
}

// RedisConfig contains redis connection settings
type RedisConfig struct {
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"6379"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	MaxIdle     int           `yaml:"max_idle" default:"5"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
}

// NetworkConfig overrides read endpoints for one network id
type NetworkConfig struct {
	RPCURL    string   `yaml:"rpc_url" validate:"omitempty,url"`
	Fallbacks []string `yaml:"fallbacks" validate:"dive,url"`
}

// ChainConfig contains receipt lookup settings
type ChainConfig struct {
	AttemptTimeout    time.Duration `yaml:"attempt_timeout" default:"5s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"5"`
	Burst             int           `yaml:"burst" default:"5"`
}

// Engine auth modes
const (
	EngineAuthBearer = "bearer"
	EngineAuthJWT    = "jwt"
)

// EngineConfig contains bridging engine settings
type EngineConfig struct {
	URL           string `yaml:"url" validate:"required,url"`
	APIKeyEnv     string `yaml:"api_key_env" default:"HOPPER_ENGINE_API_KEY"`
	Auth          string `yaml:"auth" default:"bearer" validate:"oneof=bearer jwt"`
	TransferSpeed string `yaml:"transfer_speed" default:"FAST" validate:"oneof=FAST SLOW"`
}

// QuoteConfig contains pricing quote settings
type QuoteConfig struct {
	BaseURL   string        `yaml:"base_url" default:"https://api.arc.market" validate:"url"`
	APIKeyEnv string        `yaml:"api_key_env" default:"HOPPER_ARC_API_KEY"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
}

// WalletConfig contains signing settings
type WalletConfig struct {
	PrivateKeyEnv string `yaml:"private_key_env" default:"HOPPER_WALLET_PRIVATE_KEY"`
}

// Load loads configuration from a YAML file. A .env file next to the working
// directory is loaded first when present so secret env vars can live there.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		if cfg.Database.Host == "" {
			return fmt.Errorf("database.host is required for the postgres store")
		}
	case StoreDriverFile:
		if cfg.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for the file store")
		}
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns host:port for the redis server
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Secret returns the value of the named environment variable.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
