package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database. DatabaseURL wins over the discrete fields when set.
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis config. Without Redis the API runs without idempotency keys or
	// rate limits and dispatch is not throttled.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion      string
	AWSEndpointURL string // localstack and similar
	SESFromEmail   string
	SNSRegion      string
	SMSSenderID    string
	SocialTopicARN string

	// Listing provider
	ListingAPIURL   string
	ListingAPIToken string
	ListingTimeout  time.Duration

	// Outcome events go to SQS when set
	OutcomeQueueURL string

	CronSecret string

	// Outbox processing
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxPollInterval time.Duration // 0 leaves draining to the cron endpoint

	// Automation
	AutomationTickCap    int
	AutomationWorkers    int
	AutomationRunTimeout time.Duration

	// Throttles
	DispatchRateLimit  int
	DispatchRateWindow time.Duration
	APIRateLimit       int // requests per minute per tenant

	// AI / OpenAI config
	AIEnabled     bool
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// DryRun logs every side effect instead of calling providers.
	DryRun bool
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is loaded first if present;
// real environment variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "autopilot",
		DBName:    "autopilot",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@autopilot.local",

		ListingTimeout: 15 * time.Second,

		OutboxBatchSize:   10,
		OutboxMaxAttempts: 5,

		AutomationTickCap:    50,
		AutomationWorkers:    4,
		AutomationRunTimeout: 90 * time.Second,

		DispatchRateLimit:  30,
		DispatchRateWindow: time.Minute,
		APIRateLimit:       100,

		OpenAIModel: "gpt-4o-mini",
	}

	var err error
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Env, "ENV")
	if err = setInt(&cfg.Port, "PORT"); err != nil {
		return nil, err
	}

	// Database config
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.DBHost, "DB_HOST")
	setString(&cfg.DBUser, "DB_USER")
	setString(&cfg.DBPassword, "DB_PASSWORD")
	setString(&cfg.DBName, "DB_NAME")
	setString(&cfg.DBSSLMode, "DB_SSLMODE")
	if err = setInt(&cfg.DBPort, "DB_PORT"); err != nil {
		return nil, err
	}

	// Redis config
	setString(&cfg.RedisHost, "REDIS_HOST")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	if err = setInt(&cfg.RedisPort, "REDIS_PORT"); err != nil {
		return nil, err
	}
	if err = setInt(&cfg.RedisDB, "REDIS_DB"); err != nil {
		return nil, err
	}

	// AWS
	setString(&cfg.AWSRegion, "AWS_REGION")
	setString(&cfg.AWSEndpointURL, "AWS_ENDPOINT_URL")
	setString(&cfg.SESFromEmail, "SES_FROM_EMAIL")
	cfg.SNSRegion = cfg.AWSRegion
	setString(&cfg.SNSRegion, "SNS_REGION")
	setString(&cfg.SMSSenderID, "SMS_SENDER_ID")
	setString(&cfg.SocialTopicARN, "SOCIAL_TOPIC_ARN")
	setString(&cfg.OutcomeQueueURL, "OUTCOME_QUEUE_URL")

	// Listing provider
	setString(&cfg.ListingAPIURL, "LISTING_API_URL")
	setString(&cfg.ListingAPIToken, "LISTING_API_TOKEN")
	if err = setDuration(&cfg.ListingTimeout, "LISTING_TIMEOUT"); err != nil {
		return nil, err
	}

	setString(&cfg.CronSecret, "CRON_SECRET")

	for _, f := range []struct {
		dst *int
		key string
	}{
		{&cfg.OutboxBatchSize, "OUTBOX_BATCH_SIZE"},
		{&cfg.OutboxMaxAttempts, "OUTBOX_MAX_ATTEMPTS"},
		{&cfg.AutomationTickCap, "AUTOMATION_TICK_CAP"},
		{&cfg.AutomationWorkers, "AUTOMATION_WORKERS"},
		{&cfg.DispatchRateLimit, "DISPATCH_RATE_LIMIT"},
		{&cfg.APIRateLimit, "API_RATE_LIMIT"},
	} {
		if err = setInt(f.dst, f.key); err != nil {
			return nil, err
		}
	}
	for _, f := range []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.OutboxPollInterval, "OUTBOX_POLL_INTERVAL"},
		{&cfg.AutomationRunTimeout, "AUTOMATION_RUN_TIMEOUT"},
		{&cfg.DispatchRateWindow, "DISPATCH_RATE_WINDOW"},
	} {
		if err = setDuration(f.dst, f.key); err != nil {
			return nil, err
		}
	}

	// AI config
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
		cfg.AIEnabled = true
	}
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")

	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DRY_RUN: %w", err)
		}
		cfg.DryRun = b
	}

	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go durations ("90s") or bare seconds ("90").
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
