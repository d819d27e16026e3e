// Package app assembles the stores, providers and loops shared by the
// gateway and tick binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/ai"
	"github.com/lalithlochan/autopilot/internal/api"
	"github.com/lalithlochan/autopilot/internal/automation"
	"github.com/lalithlochan/autopilot/internal/circuitbreaker"
	"github.com/lalithlochan/autopilot/internal/config"
	"github.com/lalithlochan/autopilot/internal/db"
	"github.com/lalithlochan/autopilot/internal/dispatch"
	"github.com/lalithlochan/autopilot/internal/redis"
	"github.com/lalithlochan/autopilot/internal/schedule"
	"github.com/lalithlochan/autopilot/internal/sns"
	"github.com/lalithlochan/autopilot/internal/sqs"
	"github.com/lalithlochan/autopilot/internal/worker"
)

// App is the wired process. Redis, Idempotency and APILimiter are nil when
// Redis is unreachable.
type App struct {
	DB          *db.DB
	Redis       *redis.Client
	Outbox      *db.OutboxRepository
	Schedules   *db.ScheduleRepository
	Runs        *db.RunRepository
	Processor   *worker.Processor
	Runner      *automation.Runner
	Idempotency *redis.IdempotencyService
	APILimiter  *redis.RateLimiter

	logger *zap.Logger
}

// Build connects to Postgres (required) and Redis (optional) and wires the
// outbox processor and automation runner on top of them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	database, err := db.New(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{
		DB:        database,
		Outbox:    db.NewOutboxRepository(database, logger),
		Schedules: db.NewScheduleRepository(database, logger),
		Runs:      db.NewRunRepository(database, logger),
		logger:    logger,
	}

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and throttling disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		a.Redis = redisClient
		a.Idempotency = redis.NewIdempotencyService(redisClient, logger)
		a.APILimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.APIRateLimit,
			Window: time.Minute,
			Prefix: "api",
		})
	}

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	router := dispatch.NewRouter(providers, circuitbreaker.New(circuitbreaker.DefaultConfig(), logger), logger)

	var opts []worker.Option
	if a.Redis != nil && cfg.DispatchRateLimit > 0 {
		opts = append(opts, worker.WithThrottle(redis.NewRateLimiter(a.Redis, logger, redis.RateLimitConfig{
			Limit:  cfg.DispatchRateLimit,
			Window: cfg.DispatchRateWindow,
			Prefix: "dispatch",
		})))
	}
	if cfg.OutcomeQueueURL != "" {
		producer, err := sqs.NewOutcomeProducer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.OutcomeQueueURL,
			Endpoint: cfg.AWSEndpointURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, outcomes will not be published", zap.Error(err))
		} else {
			opts = append(opts, worker.WithOutcomeSink(producer))
		}
	}

	a.Processor = worker.New(a.Outbox, router, worker.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, logger, opts...)

	scheduler := schedule.NewScheduler(a.Schedules, a.Runs, schedule.Config{
		Cap: cfg.AutomationTickCap,
	}, logger)
	a.Runner = automation.New(scheduler, a.Schedules, a.Runs, a.Outbox, contentGenerator(cfg, logger), automation.Config{
		Workers:    cfg.AutomationWorkers,
		RunTimeout: cfg.AutomationRunTimeout,
	}, logger)

	return a, nil
}

func buildProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Providers, error) {
	if cfg.DryRun {
		logger.Warn("dry run enabled, providers only log")
		return dispatch.NewLogProvider(logger).Providers(), nil
	}

	email, err := dispatch.NewSESEmailSender(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return dispatch.Providers{}, fmt.Errorf("failed to create SES email sender: %w", err)
	}

	p := dispatch.Providers{Email: email}

	sms, err := dispatch.NewSNSSMSSender(ctx, dispatch.SNSConfig{
		Region:   cfg.SNSRegion,
		SenderID: cfg.SMSSenderID,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS disabled", zap.Error(err))
	} else {
		p.SMS = sms
	}

	if cfg.SocialTopicARN != "" {
		social, err := sns.NewSocialPublisher(ctx, cfg.SocialTopicARN, cfg.SNSRegion, cfg.AWSEndpointURL, logger)
		if err != nil {
			logger.Warn("social publisher unavailable, publish_post disabled", zap.Error(err))
		} else {
			p.Social = social
		}
	}

	if cfg.ListingAPIURL != "" {
		p.Listing = dispatch.NewHTTPListingPoster(dispatch.ListingConfig{
			BaseURL: cfg.ListingAPIURL,
			Token:   cfg.ListingAPIToken,
			Timeout: cfg.ListingTimeout,
		}, logger)
	}

	logger.Info("initialized dispatch providers",
		zap.Bool("email_enabled", p.Email != nil),
		zap.Bool("sms_enabled", p.SMS != nil),
		zap.Bool("social_enabled", p.Social != nil),
		zap.Bool("listing_enabled", p.Listing != nil),
	)
	return p, nil
}

func contentGenerator(cfg *config.Config, logger *zap.Logger) automation.ContentGenerator {
	client, err := ai.NewClient(ai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	}, logger)
	if err != nil {
		if !errors.Is(err, ai.ErrNotConfigured) {
			logger.Warn("ai client unavailable, using templates", zap.Error(err))
		}
		return automation.TemplateGenerator{}
	}
	return ai.NewBundleGenerator(client, logger)
}

// Handler builds the API handler over the wired stores.
func (a *App) Handler() *api.Handler {
	deps := api.Deps{
		Outbox:    a.Outbox,
		Processor: a.Processor,
		Schedules: a.Schedules,
		Runs:      a.Runs,
		Runner:    a.Runner,
	}
	if a.Idempotency != nil {
		deps.Idempotency = a.Idempotency
	}
	return api.NewHandler(a.logger, deps)
}

// Health fails when Postgres is down. Redis is optional and only logged.
func (a *App) Health(ctx context.Context) error {
	if err := a.DB.Health(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Health(ctx); err != nil {
			a.logger.Warn("redis health check failed", zap.Error(err))
		}
	}
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.DB.Close()
}
