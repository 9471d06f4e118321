package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Database    DatabaseConfig
	Topology    TopologyConfig
	Simulation  SimulationConfig
	Broadcast   BroadcastConfig
	Server      ServerConfig
	Maintenance MaintenanceConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
}

// TopologyConfig points at the network definition supplied by the data
// setup tooling.
type TopologyConfig struct {
	NetworkFile string `validate:"required"`
}

// SimulationConfig controls the tick driver and the train fleet.
type SimulationConfig struct {
	TickMin       time.Duration `validate:"gt=0"`
	TickMax       time.Duration `validate:"gtefield=TickMin"`
	TrainsPerLine int           `validate:"gt=0"`
	// AlertEvery emits a low-severity system alert every N ticks; 0 disables.
	AlertEvery int `validate:"gte=0"`
}

// BroadcastConfig covers both the websocket fan-out and the multicast sink.
type BroadcastConfig struct {
	MulticastGroup  string `validate:"required,ip"`
	MulticastPort   int    `validate:"gt=0"`
	SubscriberQueue int    `validate:"gt=0"`
	WriteTimeout    time.Duration
}

type ServerConfig struct {
	Port           string `validate:"required"`
	AllowedOrigins []string
}

type MaintenanceConfig struct {
	HistoryRetention time.Duration `validate:"gt=0"`
	CleanupInterval  time.Duration `validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

type LoggingConfig struct {
	Level      string
	FilePath   string
	DiscordURL string
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "klmetro"),
		},
		Topology: TopologyConfig{
			NetworkFile: getEnv("NETWORK_FILE", "network.yml"),
		},
		Simulation: SimulationConfig{
			TickMin:       getDurationEnv("SIM_TICK_MIN", 3*time.Second),
			TickMax:       getDurationEnv("SIM_TICK_MAX", 6*time.Second),
			TrainsPerLine: getIntEnv("SIM_TRAINS_PER_LINE", 2),
			AlertEvery:    getIntEnv("SIM_ALERT_EVERY", 20),
		},
		Broadcast: BroadcastConfig{
			MulticastGroup:  getEnv("MULTICAST_GROUP", "224.1.1.1"),
			MulticastPort:   getIntEnv("MULTICAST_PORT", 9001),
			SubscriberQueue: getIntEnv("SUBSCRIBER_QUEUE", 64),
			WriteTimeout:    getDurationEnv("SUBSCRIBER_WRITE_TIMEOUT", 10*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: []string{getEnv("CORS_ORIGIN", "*")},
		},
		Maintenance: MaintenanceConfig{
			HistoryRetention: getDurationEnv("HISTORY_RETENTION", 7*24*time.Hour),
			CleanupInterval:  getDurationEnv("CLEANUP_INTERVAL", 24*time.Hour),
		},
		Metrics: MetricsConfig{
			Enabled:  getEnv("OTEL_METRICS_ENABLED", "false") == "true",
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE", "klmetro.log"),
			DiscordURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration with struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
