package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"campusRobotDelivery/internal/logger"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	GRPC     GRPCConfig
	HTTP     HTTPConfig
	Auth     AuthConfig
	Kafka    KafkaConfig
	Dispatch DispatchConfig
	Log      logger.LogConfig
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string `env:"DB_PATH" envDefault:"campus.db"` // SQLite database file path
}

// GRPCConfig contains gRPC server settings.
type GRPCConfig struct {
	Address string `env:"GRPC_ADDRESS" envDefault:":50051"`
}

// HTTPConfig contains the dashboard HTTP server settings.
type HTTPConfig struct {
	Address string `env:"HTTP_ADDRESS" envDefault:":8080"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
}

// KafkaConfig enables the external event sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	TopicPrefix string   `env:"KAFKA_TOPIC_PREFIX" envDefault:"campus."`

	// PublishTimeout bounds each write so an unreachable broker cannot stall dispatch.
	PublishTimeout time.Duration `env:"KAFKA_PUBLISH_TIMEOUT" envDefault:"2s"`
}

// DispatchConfig holds the robot dispatch and order automation timings, in seconds.
type DispatchConfig struct {
	AssignmentPollSeconds     int  `env:"ROBOT_ASSIGNMENT_POLL_INTERVAL" envDefault:"15"`
	AssignedToEnRouteSeconds  int  `env:"ASSIGNED_TO_EN_ROUTE_DELAY" envDefault:"30"`
	EnRouteToDeliveredSeconds int  `env:"EN_ROUTE_TO_DELIVERED_DELAY" envDefault:"60"`
	AutomationPollSeconds     int  `env:"ORDER_AUTOMATION_POLL_INTERVAL" envDefault:"30"`
	EnableAssignmentPolling   bool `env:"ENABLE_ROBOT_ASSIGNMENT_POLLING" envDefault:"true"`
	EnableOrderAutomation     bool `env:"ENABLE_ORDER_AUTOMATION" envDefault:"true"`
}

func (d DispatchConfig) AssignmentPollInterval() time.Duration {
	return time.Duration(d.AssignmentPollSeconds) * time.Second
}

func (d DispatchConfig) AssignedToEnRouteDelay() time.Duration {
	return time.Duration(d.AssignedToEnRouteSeconds) * time.Second
}

func (d DispatchConfig) EnRouteToDeliveredDelay() time.Duration {
	return time.Duration(d.EnRouteToDeliveredSeconds) * time.Second
}

func (d DispatchConfig) AutomationPollInterval() time.Duration {
	return time.Duration(d.AutomationPollSeconds) * time.Second
}

const devJWTSecret = "dev-secret-change-me"

// Load loads configuration from the environment (and an optional .env file).
// JWT_SECRET is required.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for JWT_SECRET in development.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = devJWTSecret
	}
	return cfg, nil
}

func load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Dispatch.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile reads ENV_FILE, or ./.env when present. Existing variables win.
func loadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (d DispatchConfig) validate() error {
	checks := []struct {
		key string
		val int
	}{
		{"ROBOT_ASSIGNMENT_POLL_INTERVAL", d.AssignmentPollSeconds},
		{"ASSIGNED_TO_EN_ROUTE_DELAY", d.AssignedToEnRouteSeconds},
		{"EN_ROUTE_TO_DELIVERED_DELAY", d.EnRouteToDeliveredSeconds},
		{"ORDER_AUTOMATION_POLL_INTERVAL", d.AutomationPollSeconds},
	}
	for _, c := range checks {
		if c.val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", c.key, c.val)
		}
	}
	return nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DB: %s, gRPC: %s, HTTP: %s, Kafka: %v, Dispatch: poll=%ds assigned->en_route=%ds en_route->delivered=%ds automation=%ds polling=%t automation=%t, Auth: *** (masked) ***}",
		c.Database.Path, c.GRPC.Address, c.HTTP.Address, c.Kafka.Brokers,
		c.Dispatch.AssignmentPollSeconds, c.Dispatch.AssignedToEnRouteSeconds, c.Dispatch.EnRouteToDeliveredSeconds,
		c.Dispatch.AutomationPollSeconds, c.Dispatch.EnableAssignmentPolling, c.Dispatch.EnableOrderAutomation)
}
