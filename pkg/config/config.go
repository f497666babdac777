package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverNone     = "none"
)

type Config struct {
	HTTPAddr string
	LogMode  string

	StoreDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
	SQLitePath    string

	AdminPassword string

	WebhookURL     string
	WebhookTimeout time.Duration

	QuizDuration     int
	QuestionBankPath string

	RabbitMQURI      string
	RabbitMQExchange string

	JobsRedisAddr     string
	JobsRedisPassword string
	JobsRedisDB       int

	StaticDir        string
	PersistTimeout   time.Duration
	SessionRetention time.Duration
}

// Load reads an optional .env file and then the environment
func Load(files ...string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load(files...)
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the config from any key lookup
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		HTTPAddr:         get("HTTP_ADDR", ":8080"),
		LogMode:          get("LOG_MODE", "dev"),
		StoreDriver:      strings.ToLower(get("STORE_DRIVER", DriverRedis)),
		RedisAddr:        get("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    get("REDIS_PASSWORD", ""),
		PostgresDSN:      get("POSTGRES_DSN", ""),
		SQLitePath:       get("SQLITE_PATH", "quiz.db"),
		AdminPassword:    get("ADMIN_PASSWORD", "password"),
		WebhookURL:       get("WEBHOOK_URL", ""),
		QuestionBankPath: get("QUESTION_BANK_PATH", ""),
		RabbitMQURI:      get("RABBITMQ_URI", ""),
		RabbitMQExchange: get("RABBITMQ_EXCHANGE", "quiz.events"),
		StaticDir:        get("STATIC_DIR", "."),

		JobsRedisAddr:     get("JOBS_REDIS_ADDR", ""),
		JobsRedisPassword: get("JOBS_REDIS_PASSWORD", ""),
	}

	var err error
	if cfg.RedisDB, err = atoi("REDIS_DB", get("REDIS_DB", "0")); err != nil {
		return nil, err
	}
	if cfg.JobsRedisDB, err = atoi("JOBS_REDIS_DB", get("JOBS_REDIS_DB", "1")); err != nil {
		return nil, err
	}
	if cfg.QuizDuration, err = atoi("QUIZ_DURATION", get("QUIZ_DURATION", "1080")); err != nil {
		return nil, err
	}
	if cfg.QuizDuration <= 0 {
		return nil, fmt.Errorf("QUIZ_DURATION must be positive, got %d", cfg.QuizDuration)
	}
	if cfg.WebhookTimeout, err = duration("WEBHOOK_TIMEOUT", get("WEBHOOK_TIMEOUT", "10s")); err != nil {
		return nil, err
	}
	if cfg.PersistTimeout, err = duration("PERSIST_TIMEOUT", get("PERSIST_TIMEOUT", "10s")); err != nil {
		return nil, err
	}
	if cfg.SessionRetention, err = duration("SESSION_RETENTION", get("SESSION_RETENTION", "30m")); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case DriverRedis, DriverSQLite, DriverMemory, DriverNone:
	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func atoi(key, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func duration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
