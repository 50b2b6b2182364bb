package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/newsklad/backend/internal/db"
	"golang.org/x/crypto/bcrypt"
)

const (
	DegradedMemory = "memory"
	DegradedFail   = "fail"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Env          string   `env:"APP_ENV" envDefault:"dev"`
	Port         int      `env:"PORT" envDefault:"3000"`
	ServiceName  string   `env:"SERVICE_NAME" envDefault:"newsklad-api"`
	Version      string   `env:"APP_VERSION" envDefault:"1.0.1"`
	FrontendURLs []string `env:"FRONTEND_URL" envSeparator:"," envDefault:"http://localhost:19006,http://localhost:19000"`
	MaxBodyBytes int64    `env:"MAX_BODY_BYTES" envDefault:"10485760"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"newsklad"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	BcryptCost                     int           `env:"BCRYPT_COST" envDefault:"12"`
	VerificationTTL                time.Duration `env:"VERIFICATION_TTL" envDefault:"24h"`
	RequireVerificationBeforeToken bool          `env:"AUTH_REQUIRE_VERIFICATION" envDefault:"false"`

	LoginPin LoginPinConfig

	// DegradedMode picks the store used when no database candidate answers.
	// Empty resolves to memory in dev and fail elsewhere.
	DegradedMode string `env:"STORE_DEGRADED_MODE"`

	DB        DBConfig
	Email     EmailConfig
	Notifier  NotifierConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Admin     AdminConfig
}

type DBConfig struct {
	URLs          []string `env:"DATABASE_URLS" envSeparator:","`
	Host          string   `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port          int      `env:"DB_PORT" envDefault:"5432"`
	User          string   `env:"DB_USER" envDefault:"newsklad"`
	Password      string   `env:"DB_PASSWORD"`
	Name          string   `env:"DB_NAME" envDefault:"newsklad"`
	SSLMode       string   `env:"DB_SSLMODE" envDefault:"disable"`
	FallbackNames []string `env:"DB_FALLBACK_NAMES" envSeparator:","`

	ConnectTimeout       time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	AttemptsPerCandidate uint64        `env:"DB_ATTEMPTS_PER_CANDIDATE" envDefault:"1"`
	RetryDelay           time.Duration `env:"DB_RETRY_DELAY" envDefault:"500ms"`
	MaxConns             int32         `env:"DB_MAX_CONNS" envDefault:"5"`
	Migrate              bool          `env:"DB_MIGRATE" envDefault:"true"`
}

type EmailConfig struct {
	Provider string `env:"EMAIL_PROVIDER" envDefault:"custom"`
	User     string `env:"EMAIL_USER"`
	Password string `env:"EMAIL_PASSWORD"`
	SMTPHost string `env:"SMTP_HOST"`
	SMTPPort int    `env:"SMTP_PORT" envDefault:"587"`
	Secure   bool   `env:"SMTP_SECURE" envDefault:"false"`
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"Newsklad"`
}

// Enabled mirrors the rule that mail goes out only with credentials present.
func (c EmailConfig) Enabled() bool {
	return c.User != "" && c.Password != ""
}

// LoginPinConfig gates sign-in behind a mailed numeric code.
type LoginPinConfig struct {
	Required    bool          `env:"AUTH_LOGIN_PIN" envDefault:"false"`
	TTL         time.Duration `env:"LOGIN_PIN_TTL" envDefault:"10m"`
	MaxAttempts int           `env:"LOGIN_PIN_MAX_ATTEMPTS" envDefault:"5"`
	Digits      int           `env:"LOGIN_PIN_DIGITS" envDefault:"6"`
}

type NotifierConfig struct {
	Timeout          time.Duration `env:"NOTIFIER_TIMEOUT" envDefault:"5s"`
	FailureThreshold int           `env:"NOTIFIER_FAILURE_THRESHOLD" envDefault:"3"`
	Cooldown         time.Duration `env:"NOTIFIER_COOLDOWN" envDefault:"30s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type RateLimitConfig struct {
	Limit  int           `env:"AUTH_RATE_LIMIT" envDefault:"20"`
	Window time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"1m"`
}

type TracingConfig struct {
	Enabled     bool    `env:"TRACING_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

type AdminConfig struct {
	Email     string `env:"ADMIN_EMAIL"`
	Password  string `env:"ADMIN_PASSWORD"`
	FirstName string `env:"ADMIN_FIRST_NAME" envDefault:"Admin"`
	LastName  string `env:"ADMIN_LAST_NAME" envDefault:"Admin"`
}

// Load reads the environment. A missing signing secret is fatal: there is no
// development default.
func Load() (Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	switch c.DegradedMode {
	case "":
		if c.IsDev() {
			c.DegradedMode = DegradedMemory
		} else {
			c.DegradedMode = DegradedFail
		}
	case DegradedMemory, DegradedFail:
	default:
		return fmt.Errorf("STORE_DEGRADED_MODE must be %q or %q", DegradedMemory, DegradedFail)
	}

	if c.VerificationTTL <= 0 {
		return errors.New("VERIFICATION_TTL must be positive")
	}

	if c.LoginPin.Required {
		// nobody could finish a sign-in without mail going out
		if !c.Email.Enabled() {
			return errors.New("AUTH_LOGIN_PIN requires EMAIL_USER and EMAIL_PASSWORD")
		}
		if c.LoginPin.TTL <= 0 || c.LoginPin.MaxAttempts <= 0 {
			return errors.New("LOGIN_PIN_TTL and LOGIN_PIN_MAX_ATTEMPTS must be positive")
		}
		if c.LoginPin.Digits < 4 || c.LoginPin.Digits > 10 {
			return errors.New("LOGIN_PIN_DIGITS must be between 4 and 10")
		}
	}

	if _, err := c.DB.Descriptors(); err != nil {
		return err
	}
	return nil
}

func (c Config) IsDev() bool { return c.Env == "dev" }

func (c Config) IsProd() bool { return c.Env == "prod" || c.Env == "production" }

// Descriptors returns the ordered store candidates: DATABASE_URLS verbatim
// when set, otherwise the DB_* primary followed by one candidate per
// fallback database name.
func (c DBConfig) Descriptors() ([]db.Descriptor, error) {
	var out []db.Descriptor
	for _, raw := range c.URLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := db.ParseDescriptor(fmt.Sprintf("url-%d", len(out)+1), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) > 0 {
		return out, nil
	}

	primary := db.Descriptor{
		Label:    "primary",
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Name,
		SSLMode:  c.SSLMode,
	}

	out = []db.Descriptor{primary}
	for _, name := range c.FallbackNames {
		name = strings.TrimSpace(name)
		if name == "" || name == c.Name {
			continue
		}
		out = append(out, primary.WithDatabase("fallback-"+name, name))
	}
	return out, nil
}

func (c DBConfig) EstablishOptions() db.EstablishOptions {
	return db.EstablishOptions{
		Timeout:              c.ConnectTimeout,
		AttemptsPerCandidate: c.AttemptsPerCandidate,
		RetryDelay:           c.RetryDelay,
	}
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}
