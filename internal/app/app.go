// Package app wires configuration into the store, transports and workflows
// shared by every binary.
package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/alert"
	"github.com/lalithlochan/aftercare/internal/circuitbreaker"
	"github.com/lalithlochan/aftercare/internal/config"
	"github.com/lalithlochan/aftercare/internal/db"
	"github.com/lalithlochan/aftercare/internal/mail"
	"github.com/lalithlochan/aftercare/internal/redis"
	"github.com/lalithlochan/aftercare/internal/sns"
	"github.com/lalithlochan/aftercare/internal/source"
	"github.com/lalithlochan/aftercare/internal/worker"
	"github.com/lalithlochan/aftercare/internal/workflow"
)

// Options select the optional pieces a binary needs.
type Options struct {
	// AppName is reported to Postgres as application_name.
	AppName string
	// RateLimit connects Redis for the feedback rate limiter even when the
	// job lock does not use it.
	RateLimit bool
}

// App holds the long-lived dependencies of one process.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB   *db.DB
	Repo *db.Repository

	// Redis is nil when not configured or unreachable.
	Redis       *redis.Client
	RateLimiter *redis.RateLimiter

	// Gateway is the breaker-protected transport used for customer email.
	Gateway mail.Gateway
	Breaker *circuitbreaker.CircuitBreaker

	Source   *source.Client
	Notifier *alert.Notifier
	Locker   workflow.Locker
}

// New connects to the store and builds every collaborator. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		AppName:  opts.AppName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = database
	a.Repo = db.NewRepository(database, logger)

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	if cfg.LockBackend == "redis" || opts.RateLimit {
		client, err := redis.New(ctx, redis.Config{
			Host:      cfg.RedisHost,
			Port:      cfg.RedisPort,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "aftercare",
		}, logger)
		switch {
		case err != nil && cfg.LockBackend == "redis":
			a.Close()
			return nil, fmt.Errorf("LOCK_BACKEND=redis but redis is unavailable: %w", err)
		case err != nil:
			logger.Warn("redis unavailable, feedback rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		default:
			a.Redis = client
			a.RateLimiter = redis.NewRateLimiter(client, logger, redis.RateLimitConfig{
				Limit: cfg.FeedbackRateLimit,
			})
		}
	}

	switch cfg.LockBackend {
	case "postgres":
		a.Locker = a.Repo.NewLeaseLock()
	case "redis":
		a.Locker = redis.NewJobLock(a.Redis, logger)
	}

	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:            cfg.MailTransport,
		MaxFailures:     cfg.BreakerMaxFailures,
		RecoveryTimeout: cfg.BreakerRecovery,
	}, logger)
	a.Gateway = circuitbreaker.NewProtectedGateway(transport, a.Breaker, logger)

	a.Source = source.New(source.Config{
		BaseURL:     cfg.SourceBaseURL,
		APIKey:      cfg.SourceAPIKey,
		BusinessID:  cfg.SourceBusinessID,
		Timeout:     cfg.SourceTimeout,
		MaxAttempts: cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		Location:    cfg.Location(),
	}, logger)

	// Alerts go through the raw transport so an open breaker cannot swallow them.
	var topic alert.TopicPublisher
	if cfg.AlertTopicARN != "" {
		pub, err := sns.NewPublisher(ctx, cfg.AlertTopicARN, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn("sns publisher unavailable, topic alerts disabled", zap.Error(err))
		} else {
			topic = pub
		}
	}
	a.Notifier = alert.New(transport, topic, alert.Config{
		To:      cfg.AlertEmail,
		Enabled: cfg.EnableAlerts,
	}, logger)

	logger.Info("initialized email pipeline",
		zap.String("transport", cfg.MailTransport),
		zap.String("lock_backend", cfg.LockBackend),
		zap.Bool("redis", a.Redis != nil),
		zap.Bool("alert_topic", topic != nil),
	)

	return a, nil
}

func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (mail.Gateway, error) {
	from := mail.Sender{Name: cfg.SenderName, Email: cfg.SenderEmail}

	switch cfg.MailTransport {
	case "ses":
		gw, err := mail.NewSESGateway(ctx, mail.SESConfig{Region: cfg.AWSRegion, From: from}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES gateway: %w", err)
		}
		return gw, nil
	case "log":
		return mail.NewLogGateway(logger), nil
	default:
		return mail.NewSMTPGateway(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     from,
		}, logger), nil
	}
}

func (a *App) workflowOptions() workflow.Options {
	return workflow.Options{
		ExecLog:  a.Repo,
		Notifier: a.Notifier,
		Locker:   a.Locker,
		LockTTL:  a.Config.LockTTL,
		Logger:   a.Logger,
	}
}

func (a *App) sender(kind db.TaskKind, compose worker.Composer) *worker.BatchSender {
	return worker.New(
		a.Repo.Tasks(kind, a.Config.EmailMaxRetries),
		a.Repo,
		a.Gateway,
		compose,
		worker.Config{
			BatchSize:  a.Config.BatchSize,
			BatchDelay: a.Config.BatchDelay,
			MaxRetries: a.Config.EmailMaxRetries,
		},
		a.Logger.With(zap.String("kind", string(kind))),
	)
}

// ThankYou builds the thank-you workflow.
func (a *App) ThankYou() *workflow.ThankYou {
	return workflow.NewThankYou(
		a.Source,
		a.Repo,
		a.sender(db.KindThankYou, workflow.ThankYouComposer(a.Config.SenderName)),
		a.Config.SendTimes(),
		a.Config.Location(),
		a.workflowOptions(),
	)
}

// FollowUp builds the follow-up workflow.
func (a *App) FollowUp() *workflow.FollowUp {
	return workflow.NewFollowUp(
		a.Repo,
		a.sender(db.KindFollowUp, workflow.FollowUpComposer(a.Config.SenderName, a.Config.FeedbackBaseURL)),
		a.Config.FollowUpDays,
		a.Config.Location(),
		a.workflowOptions(),
	)
}

// Close releases the store and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
