package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	LogLevel string `validate:"required"`
	Env      string `validate:"required"`

	// Database
	DBHost     string `validate:"required"`
	DBPort     int    `validate:"min=1,max=65535"`
	DBUser     string `validate:"required"`
	DBPassword string
	DBName     string `validate:"required"`
	DBSSLMode  string

	// Redis is optional; it backs the run lock and the feedback rate limit
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	LockBackend string        `validate:"oneof=postgres redis none"`
	LockTTL     time.Duration `validate:"min=0"`

	// Appointment source
	SourceBaseURL    string        `validate:"required,url"`
	SourceAPIKey     string
	SourceBusinessID string
	SourceTimeout    time.Duration `validate:"gt=0"`
	MaxRetries       int           `validate:"min=1"`
	RetryDelay       time.Duration `validate:"min=0"`

	// Mail transport
	MailTransport string `validate:"oneof=smtp ses log"`
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string `validate:"required,email"`
	SenderName    string `validate:"required"`
	AWSRegion     string

	// Scheduling
	ThankYouSendTimes []string      `validate:"min=1,dive,required"`
	FollowUpDays      int           `validate:"min=1"`
	FollowUpSendTime  string        `validate:"required"`
	BatchSize         int           `validate:"min=1"`
	BatchDelay        time.Duration `validate:"min=0"`
	// EmailMaxRetries is the attempt limit per email task. MaxRetries only
	// covers appointment source calls.
	EmailMaxRetries   int           `validate:"min=1"`
	Timezone          string        `validate:"required"`
	SchedulerTick     time.Duration `validate:"gt=0"`
	FeedbackBaseURL   string        `validate:"required,url"`

	// Alerts
	AlertEmail    string `validate:"omitempty,email"`
	EnableAlerts  bool
	AlertTopicARN string

	BackupDir string `validate:"required"`

	// Circuit breaker in front of the mail transport
	BreakerMaxFailures int           `validate:"min=1"`
	BreakerRecovery    time.Duration `validate:"gt=0"`

	FeedbackRateLimit int `validate:"min=1"`
}

// Load reads configuration from the environment (and a .env file when present)
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "aftercare",
		DBName:    "aftercare",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		LockBackend: "postgres",
		LockTTL:     30 * time.Minute,

		SourceBaseURL: "https://api.fresha.com/v1",
		SourceTimeout: 30 * time.Second,
		MaxRetries:    3,
		RetryDelay:    5 * time.Second,

		MailTransport: "smtp",
		SMTPHost:      "smtp.gmail.com",
		SMTPPort:      587,
		SenderEmail:   "noreply@aftercare.local",
		SenderName:    "Your Nail Salon",
		AWSRegion:     "us-east-1",

		ThankYouSendTimes: []string{"12:00", "19:00"},
		FollowUpDays:      7,
		FollowUpSendTime:  "08:00",
		BatchSize:         50,
		BatchDelay:        2 * time.Second,
		EmailMaxRetries:   3,
		Timezone:          "UTC",
		SchedulerTick:     60 * time.Second,
		FeedbackBaseURL:   "https://your-salon.com/feedback",

		EnableAlerts: true,
		BackupDir:    "backups",

		BreakerMaxFailures: 5,
		BreakerRecovery:    30 * time.Second,

		FeedbackRateLimit: 20,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if backend := os.Getenv("LOCK_BACKEND"); backend != "" {
		cfg.LockBackend = strings.ToLower(backend)
	}

	if ttl := os.Getenv("LOCK_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCK_TTL: %w", err)
		}
		cfg.LockTTL = d
	}

	// Appointment source
	if url := os.Getenv("SOURCE_API_BASE_URL"); url != "" {
		cfg.SourceBaseURL = strings.TrimRight(url, "/")
	}

	if key := os.Getenv("SOURCE_API_KEY"); key != "" {
		cfg.SourceAPIKey = key
	}

	if id := os.Getenv("SOURCE_BUSINESS_ID"); id != "" {
		cfg.SourceBusinessID = id
	}

	if timeout := os.Getenv("SOURCE_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SOURCE_TIMEOUT: %w", err)
		}
		cfg.SourceTimeout = d
	}

	if retries := os.Getenv("MAX_RETRIES"); retries != "" {
		n, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = n
	}

	if retries := os.Getenv("EMAIL_MAX_RETRIES"); retries != "" {
		n, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid EMAIL_MAX_RETRIES: %w", err)
		}
		cfg.EmailMaxRetries = n
	}

	if delay := os.Getenv("RETRY_DELAY"); delay != "" {
		d, err := parseSeconds(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_DELAY: %w", err)
		}
		cfg.RetryDelay = d
	}

	// Mail transport
	if transport := os.Getenv("MAIL_TRANSPORT"); transport != "" {
		cfg.MailTransport = strings.ToLower(transport)
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTPHost = host
	}

	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPPort = p
	}

	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTPUsername = user
	}

	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.SMTPPassword = pass
	}

	if from := os.Getenv("SENDER_EMAIL"); from != "" {
		cfg.SenderEmail = from
	}

	if name := os.Getenv("SENDER_NAME"); name != "" {
		cfg.SenderName = name
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// Scheduling
	if times := os.Getenv("THANK_YOU_SEND_TIMES"); times != "" {
		cfg.ThankYouSendTimes = splitList(times)
	}

	if days := os.Getenv("FOLLOWUP_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid FOLLOWUP_DAYS: %w", err)
		}
		cfg.FollowUpDays = n
	}

	if at := os.Getenv("FOLLOWUP_SEND_TIME"); at != "" {
		cfg.FollowUpSendTime = at
	}

	if size := os.Getenv("BATCH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}

	if delay := os.Getenv("EMAIL_DELAY_BETWEEN_BATCH"); delay != "" {
		d, err := parseSeconds(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid EMAIL_DELAY_BETWEEN_BATCH: %w", err)
		}
		cfg.BatchDelay = d
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}

	if tick := os.Getenv("SCHEDULER_TICK"); tick != "" {
		d, err := time.ParseDuration(tick)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_TICK: %w", err)
		}
		cfg.SchedulerTick = d
	}

	if url := os.Getenv("FEEDBACK_BASE_URL"); url != "" {
		cfg.FeedbackBaseURL = url
	}

	// Alerts
	if email := os.Getenv("ALERT_EMAIL"); email != "" {
		cfg.AlertEmail = email
	}

	if enabled := os.Getenv("ENABLE_ALERTS"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid ENABLE_ALERTS: %w", err)
		}
		cfg.EnableAlerts = b
	}

	if arn := os.Getenv("ALERT_TOPIC_ARN"); arn != "" {
		cfg.AlertTopicARN = arn
	}

	if dir := os.Getenv("BACKUP_DIR"); dir != "" {
		cfg.BackupDir = dir
	}

	if failures := os.Getenv("BREAKER_MAX_FAILURES"); failures != "" {
		n, err := strconv.Atoi(failures)
		if err != nil {
			return nil, fmt.Errorf("invalid BREAKER_MAX_FAILURES: %w", err)
		}
		cfg.BreakerMaxFailures = n
	}

	if recovery := os.Getenv("BREAKER_RECOVERY"); recovery != "" {
		d, err := time.ParseDuration(recovery)
		if err != nil {
			return nil, fmt.Errorf("invalid BREAKER_RECOVERY: %w", err)
		}
		cfg.BreakerRecovery = d
	}

	if limit := os.Getenv("FEEDBACK_RATE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid FEEDBACK_RATE_LIMIT: %w", err)
		}
		cfg.FeedbackRateLimit = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and the values that need parsing
// (time zone and HH:MM send times).
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	for _, t := range c.ThankYouSendTimes {
		if _, err := ParseTimeOfDay(t); err != nil {
			return fmt.Errorf("invalid THANK_YOU_SEND_TIMES: %w", err)
		}
	}

	if _, err := ParseTimeOfDay(c.FollowUpSendTime); err != nil {
		return fmt.Errorf("invalid FOLLOWUP_SEND_TIME: %w", err)
	}

	return nil
}

// Location returns the configured business time zone. Validate has already
// confirmed it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SendTimes returns the parsed thank-you send times.
func (c *Config) SendTimes() []TimeOfDay {
	out := make([]TimeOfDay, 0, len(c.ThankYouSendTimes))
	for _, s := range c.ThankYouSendTimes {
		if t, err := ParseTimeOfDay(s); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// FollowUpTime returns the parsed daily follow-up trigger time.
func (c *Config) FollowUpTime() TimeOfDay {
	t, err := ParseTimeOfDay(c.FollowUpSendTime)
	if err != nil {
		return TimeOfDay{Hour: 8}
	}
	return t
}

// parseSeconds accepts either a Go duration ("2s") or a bare number of seconds ("2").
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
