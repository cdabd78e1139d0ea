package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig
	App         AppConfig
	HTTP        HTTPConfig
	Security    SecurityConfig
	Performance PerformanceConfig
	Prometheus  PrometheusConfig
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// AppConfig holds general application configuration.
type AppConfig struct {
	LogLevel      string        `yaml:"log_level"`
	DaemonPort    int           `yaml:"daemon_port"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}

// HTTPConfig holds outbound HTTP client configuration.
type HTTPConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SecurityConfig holds SSRF-guard related configuration.
type SecurityConfig struct {
	// AllowPrivateNetworks disables the SSRF guard entirely. Intended only
	// for local development against a self-hosted test site.
	AllowPrivateNetworks bool `yaml:"allow_private_networks"`
}

// PerformanceConfig holds pipeline sizing/backpressure configuration.
type PerformanceConfig struct {
	FeedQueueCapacity         int `yaml:"feed_queue_capacity"`
	ArticleQueueCapacity      int `yaml:"article_queue_capacity"`
	NotificationQueueCapacity int `yaml:"notification_queue_capacity"`
}

// PrometheusConfig holds metrics-endpoint configuration.
type PrometheusConfig struct {
	MetricsPath string `yaml:"metrics_path"`
}

// Load builds a Config from environment variables, then applies an optional
// YAML overlay file named by CONFIG_FILE, if present.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "local"),
		},
		App: AppConfig{
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			DaemonPort:    getEnvInt("DAEMON_PORT", 8080),
			DrainInterval: getEnvDuration("DRAIN_INTERVAL", 5*time.Minute),
		},
		HTTP: HTTPConfig{
			UserAgent: getEnv("HTTP_USER_AGENT", "webmentions-go/0.1"),
			Timeout:   getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		},
		Security: SecurityConfig{
			AllowPrivateNetworks: getEnvBool("ALLOW_PRIVATE_NETWORKS", false),
		},
		Performance: PerformanceConfig{
			FeedQueueCapacity:         getEnvInt("FEED_QUEUE_CAPACITY", 64),
			ArticleQueueCapacity:      getEnvInt("ARTICLE_QUEUE_CAPACITY", 256),
			NotificationQueueCapacity: getEnvInt("NOTIFICATION_QUEUE_CAPACITY", 256),
		},
		Prometheus: PrometheusConfig{
			MetricsPath: getEnv("PROMETHEUS_METRICS_PATH", "/metrics"),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyYAMLOverlay(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config overlay %s: %w", path, err)
		}
	}

	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ConnectionString returns the lib/pq connection string for this config.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}
