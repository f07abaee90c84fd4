package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Retentive RetentiveConfig `mapstructure:"retentive"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Events    EventsConfig    `mapstructure:"events"`
	Modbus    ModbusConfig    `mapstructure:"modbus"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type EngineConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	DefaultWatchdog   time.Duration `mapstructure:"default_watchdog"`
	MinWatchdog       time.Duration `mapstructure:"min_watchdog"`
	MaxWatchdog       time.Duration `mapstructure:"max_watchdog"`
	MaxProgramSize    int           `mapstructure:"max_program_size"`
	WatchdogStopAfter int           `mapstructure:"watchdog_stop_after"`
	ProgramDir        string        `mapstructure:"program_dir"`
	Autorun           []string      `mapstructure:"autorun"`
}

type RegistryConfig struct {
	OfflineTimeout       time.Duration `mapstructure:"offline_timeout"`
	OfflineCheckInterval time.Duration `mapstructure:"offline_check_interval"`
	EndpointsFile        string        `mapstructure:"endpoints_file"`
}

// Retentive backends.
const (
	RetentivePostgres = "postgres"
	RetentiveFile     = "file"
	RetentiveNone     = "none"
)

type RetentiveConfig struct {
	Backend      string        `mapstructure:"backend"`
	Dir          string        `mapstructure:"dir"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type EventsConfig struct {
	ConfigFile    string        `mapstructure:"config_file"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Persist       bool          `mapstructure:"persist"`
}

type ModbusConfig struct {
	DefaultTimeout      time.Duration        `mapstructure:"default_timeout"`
	DefaultPollInterval time.Duration        `mapstructure:"default_poll_interval"`
	Devices             []ModbusDeviceConfig `mapstructure:"devices"`
}

type ModbusDeviceConfig struct {
	Name         string                 `mapstructure:"name"`
	Location     string                 `mapstructure:"location"`
	Address      string                 `mapstructure:"address"`
	UnitID       uint8                  `mapstructure:"unit_id"`
	PollInterval time.Duration          `mapstructure:"poll_interval"`
	Registers    []ModbusRegisterConfig `mapstructure:"registers"`
}

type ModbusRegisterConfig struct {
	Name     string  `mapstructure:"name"`
	Address  uint16  `mapstructure:"address"`
	DataType string  `mapstructure:"datatype"`
	Writable bool    `mapstructure:"writable"`
	Scale    float64 `mapstructure:"scale"`
}

type AuthConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("engine.scan_interval", "10ms")
	v.SetDefault("engine.default_watchdog", "5000ms")
	v.SetDefault("engine.min_watchdog", "10ms")
	v.SetDefault("engine.max_watchdog", "60000ms")
	v.SetDefault("engine.max_program_size", 64<<10)
	v.SetDefault("engine.watchdog_stop_after", 0)
	v.SetDefault("engine.program_dir", "")
	v.SetDefault("engine.autorun", []string{})

	v.SetDefault("registry.offline_timeout", "60s")
	v.SetDefault("registry.offline_check_interval", "5s")
	v.SetDefault("registry.endpoints_file", "")

	v.SetDefault("retentive.backend", RetentiveFile)
	v.SetDefault("retentive.dir", "data/retentive")
	v.SetDefault("retentive.save_interval", "0s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "opensoftplc")
	v.SetDefault("database.user", "plc")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("events.config_file", "")
	v.SetDefault("events.check_interval", "1s")
	v.SetDefault("events.persist", false)

	v.SetDefault("modbus.default_timeout", "1s")
	v.SetDefault("modbus.default_poll_interval", "100ms")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "OSP_JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
}

// Load reads the YAML file at path. An empty path uses defaults and the
// environment only. Environment variables use the OSP_ prefix, e.g.
// OSP_ENGINE_SCAN_INTERVAL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("OSP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Retentive.Backend {
	case RetentivePostgres:
		if !c.Database.Enabled {
			return fmt.Errorf("retentive backend postgres requires database.enabled")
		}
	case RetentiveFile:
		if c.Retentive.Dir == "" {
			return fmt.Errorf("retentive backend file requires retentive.dir")
		}
	case RetentiveNone:
	default:
		return fmt.Errorf("unknown retentive backend %q", c.Retentive.Backend)
	}
	if c.Events.Persist && !c.Database.Enabled {
		return fmt.Errorf("events.persist requires database.enabled")
	}
	if c.Engine.ScanInterval <= 0 {
		return fmt.Errorf("engine.scan_interval must be positive")
	}
	if c.Engine.WatchdogStopAfter < 0 {
		return fmt.Errorf("engine.watchdog_stop_after must not be negative")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret reads the signing secret from the configured environment
// variable and falls back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "OSP_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
