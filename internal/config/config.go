package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the dispatch server.
// Values are loaded from environment variables with defaults that let the
// binary run locally with no external services.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers        []string
	KafkaEventsTopic    string
	KafkaTelemetryTopic string
	KafkaGroup          string

	AMQPURL      string
	AMQPExchange string

	PGDSN string

	MatcherInterval    time.Duration
	ReconcilerInterval time.Duration
	OfferTimeout       time.Duration
	LivenessThreshold  time.Duration
	StalePendingAfter  time.Duration
	OTPDigits          int

	NotifyAttempts int
	NotifyTimeout  time.Duration
	NotifyWorkers  int
	NotifyQueue    int

	OSRMEndpoint    string
	ETACacheTTL     time.Duration
	DefaultSpeedMps float64

	StripeAPIKey     string
	StripeHoldAmount int64
	StripeCurrency   string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisGeoKey:         "drivers_geo",
		KafkaEventsTopic:    "dispatch-events",
		KafkaTelemetryTopic: "driver-telemetry",
		KafkaGroup:          "ride-dispatch",
		AMQPExchange:        "dispatch.events",
		MatcherInterval:     5 * time.Second,
		ReconcilerInterval:  10 * time.Second,
		OfferTimeout:        60 * time.Second,
		LivenessThreshold:   30 * time.Second,
		StalePendingAfter:   5 * time.Minute,
		OTPDigits:           4,
		NotifyAttempts:      3,
		NotifyTimeout:       2 * time.Second,
		NotifyWorkers:       4,
		NotifyQueue:         256,
		ETACacheTTL:         30 * time.Second,
		DefaultSpeedMps:     8,
		StripeCurrency:      "usd",
		LogLevel:            "info",
	}
}

// LoadServerConfig reads a .env file if one exists, then the environment.
// Every invalid value is reported, not just the first.
func LoadServerConfig() (ServerConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ServerConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaTelemetryTopic, "KAFKA_TELEMETRY_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.MatcherInterval, "MATCHER_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ReconcilerInterval, "RECONCILER_INTERVAL", &errs)
	setDurationFromEnv(&cfg.OfferTimeout, "OFFER_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.LivenessThreshold, "LIVENESS_THRESHOLD", &errs)
	setDurationFromEnv(&cfg.StalePendingAfter, "STALE_PENDING_AFTER", &errs)
	setIntFromEnv(&cfg.OTPDigits, "OTP_DIGITS", &errs)

	setIntFromEnv(&cfg.NotifyAttempts, "NOTIFY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.NotifyTimeout, "NOTIFY_TIMEOUT", &errs)
	setIntFromEnv(&cfg.NotifyWorkers, "NOTIFY_WORKERS", &errs)
	setIntFromEnv(&cfg.NotifyQueue, "NOTIFY_QUEUE", &errs)

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "MATCHER_DEFAULT_SPEED_MPS", &errs)

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	setInt64FromEnv(&cfg.StripeHoldAmount, "STRIPE_HOLD_AMOUNT", &errs)
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	positive := map[string]time.Duration{
		"MATCHER_INTERVAL":    c.MatcherInterval,
		"RECONCILER_INTERVAL": c.ReconcilerInterval,
		"OFFER_TIMEOUT":       c.OfferTimeout,
		"LIVENESS_THRESHOLD":  c.LivenessThreshold,
		"STALE_PENDING_AFTER": c.StalePendingAfter,
		"NOTIFY_TIMEOUT":      c.NotifyTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	if c.OTPDigits < 4 || c.OTPDigits > 8 {
		errs = append(errs, fmt.Errorf("OTP_DIGITS must be between 4 and 8"))
	}
	if c.NotifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_ATTEMPTS must be >= 1"))
	}
	if c.NotifyWorkers < 1 || c.NotifyQueue < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE must be >= 1"))
	}
	if c.StripeHoldAmount < 0 {
		errs = append(errs, fmt.Errorf("STRIPE_HOLD_AMOUNT must be >= 0"))
	}
	return errs
}

// PaymentsEnabled reports whether rides get a Stripe pre-authorisation.
func (c ServerConfig) PaymentsEnabled() bool {
	return c.StripeAPIKey != "" && c.StripeHoldAmount > 0
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
