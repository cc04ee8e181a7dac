package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full application configuration, passed explicitly to
// component constructors at startup. No component reads the environment
// after Load returns.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	MetOffice   MetOfficeConfig
	Ingestion   IngestionConfig
	Aggregation AggregationConfig
	Scheduler   SchedulerConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL is the safety-net expiry on cached entries; event-driven
	// invalidation is the primary freshness guarantee.
	TTL time.Duration
}

type MetOfficeConfig struct {
	BaseURL      string
	FetchTimeout time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

type IngestionConfig struct {
	Workers   int
	QueueSize int
	// TaskMaxAttempts bounds redelivery of a failed queue task.
	TaskMaxAttempts int
}

type AggregationConfig struct {
	// MinMonthsComplete is the number of present months required before a
	// yearly aggregate is tagged complete.
	MinMonthsComplete int
	// MinDecadeYears is the number of present yearly values required before
	// a decadal aggregate is tagged complete.
	MinDecadeYears int
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type LoggingConfig struct {
	Level string
}

// Load reads configuration from the environment with defaults. A .env file
// in the working directory is honoured when present.
func Load() (*Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getenvDefault("SERVER_HOST", "0.0.0.0"),
			Port:         getenvInt("SERVER_PORT", 8080),
			ReadTimeout:  getenvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getenvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getenvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getenvDefault("DB_HOST", "localhost"),
			Port:            getenvInt("DB_PORT", 5432),
			User:            getenvDefault("DB_USER", "postgres"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getenvDefault("DB_NAME", "metoffice_climate"),
			SSLMode:         getenvDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    getenvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getenvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getenvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getenvDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getenvInt("REDIS_DB", 0),
			TTL:      getenvDuration("CACHE_TTL", time.Hour),
		},
		MetOffice: MetOfficeConfig{
			BaseURL:      getenvDefault("METOFFICE_BASE_URL", "https://www.metoffice.gov.uk/pub/data/weather/uk/climate/datasets"),
			FetchTimeout: getenvDuration("METOFFICE_FETCH_TIMEOUT", 30*time.Second),
			MaxRetries:   getenvInt("METOFFICE_MAX_RETRIES", 3),
			RetryDelay:   getenvDuration("METOFFICE_RETRY_DELAY", 500*time.Millisecond),
		},
		Ingestion: IngestionConfig{
			Workers:         getenvInt("INGESTION_WORKERS", 4),
			QueueSize:       getenvInt("INGESTION_QUEUE_SIZE", 256),
			TaskMaxAttempts: getenvInt("INGESTION_TASK_MAX_ATTEMPTS", 3),
		},
		Aggregation: AggregationConfig{
			MinMonthsComplete: getenvInt("AGG_MIN_MONTHS_COMPLETE", 12),
			MinDecadeYears:    getenvInt("AGG_MIN_DECADE_YEARS", 6),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getenvBool("SCHEDULER_ENABLED", false),
			Interval: getenvDuration("SCHEDULER_INTERVAL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level: getenvDefault("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

// Validate checks configuration invariants before any component starts.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.MetOffice.BaseURL == "" {
		return fmt.Errorf("metoffice base URL is required")
	}
	if c.MetOffice.MaxRetries < 0 {
		return fmt.Errorf("metoffice max retries must be >= 0")
	}
	if c.Ingestion.Workers <= 0 {
		return fmt.Errorf("ingestion workers must be > 0")
	}
	if c.Ingestion.QueueSize <= 0 {
		return fmt.Errorf("ingestion queue size must be > 0")
	}
	if c.Aggregation.MinMonthsComplete < 1 || c.Aggregation.MinMonthsComplete > 12 {
		return fmt.Errorf("min months complete must be in [1,12]: %d", c.Aggregation.MinMonthsComplete)
	}
	if c.Aggregation.MinDecadeYears < 1 || c.Aggregation.MinDecadeYears > 10 {
		return fmt.Errorf("min decade years must be in [1,10]: %d", c.Aggregation.MinDecadeYears)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("scheduler interval must be at least 1m: %s", c.Scheduler.Interval)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
