package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	URL      string // host:port/dbname, no scheme or credentials
	User     string
	Password string
}

type RabbitMQ struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

type Worker struct {
	MaxAttempts     int             // default per-delivery max_attempts at insert time
	BackoffSchedule []time.Duration // delay per failed attempt, 1-indexed
	HTTPPort        string          // health/metrics port
	Prefetch        int             // unacked messages per consumer
}

type AdminAuth struct {
	JWTPublicKeyPath string
	JWTIssuer        string
	JWTAudience      string

	// Token-server settings (cmd/jwks-server): the PEM private key to sign
	// with (generated when empty) and the listen port.
	JWTPrivateKeyPEM string
	TokenPort        string
}

type FakeReceiver struct {
	FailFirstN      int           // number of requests to fail before succeeding
	ResponseDelayMS int           // simulated response delay in milliseconds
	StatusOverride  int           // force a specific status code when >0
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

type Config struct {
	AppName      string
	HTTPPort     string // ingest HTTP listener, e.g. :8080
	DB           DB
	RabbitMQ     RabbitMQ
	Worker       Worker
	AdminAuth    AdminAuth
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
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

func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute, 30 * time.Minute}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoffSchedule()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		return defaultBackoffSchedule()
	}

	return durations
}

// FromEnv loads process configuration. Every setting, including
// DB_URL/DB_USER/DB_PASSWORD and the RABBITMQ_* family, falls back to the
// local/dev default below when unset; FromEnv does not reject a missing
// setting.
func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "webhookhub"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		DB: DB{
			URL:      getenv("DB_URL", "localhost:5432/webhookhub"),
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", "postgres"),
		},
		RabbitMQ: RabbitMQ{
			Host:     getenv("RABBITMQ_HOST", "localhost"),
			Port:     getenv("RABBITMQ_PORT", "5672"),
			User:     getenv("RABBITMQ_USER", "guest"),
			Password: getenv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getenv("RABBITMQ_VHOST", "/"),
		},
		Worker: Worker{
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 5),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			HTTPPort:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
			Prefetch:        getenvInt("WORKER_PREFETCH", 5),
		},
		AdminAuth: AdminAuth{
			JWTPublicKeyPath: getenv("ADMIN_JWT_PUBLIC_KEY_PATH", ""),
			JWTIssuer:        getenv("ADMIN_JWT_ISSUER", "webhookhub"),
			JWTAudience:      getenv("ADMIN_JWT_AUDIENCE", "webhookhub-admin"),
			JWTPrivateKeyPEM: getenv("ADMIN_JWT_PRIVATE_KEY", ""),
			TokenPort:        ":" + getenv("ADMIN_TOKEN_PORT", "8082"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			StatusOverride:  getenvInt("STATUS_OVERRIDE", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

// DSN builds the pgx connection string from the URL/user/password triple.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s?sslmode=disable", c.DB.User, c.DB.Password, c.DB.URL)
}

// AMQPURL builds the amqp091-go dial URL from its broker fields.
func (c RabbitMQ) AMQPURL() string {
	vhost := strings.TrimPrefix(c.VHost, "/")
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s", c.User, c.Password, c.Host, c.Port, vhost)
}
