package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig aggregates every setting consumed by the service. It is passed
// explicitly into each component at construction; nothing reads configuration
// ambiently.
type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Login     LoginSettings     `mapstructure:"login"`
	Session   SessionSettings   `mapstructure:"session"`
	Password  PasswordSettings  `mapstructure:"password"`
	Recovery  RecoverySettings  `mapstructure:"recovery"`
	MFA       MFASettings       `mapstructure:"mfa"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Notify    NotifySettings    `mapstructure:"notify"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IsProduction reports whether the service runs with production policies.
func (s AppSettings) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

type RedisSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Enabled     bool     `mapstructure:"enabled"`
}

type JWTSettings struct {
	SigningSecret   string        `mapstructure:"signing_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type LoginSettings struct {
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
}

type SessionSettings struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	HardTTL     time.Duration `mapstructure:"hard_ttl"`
}

type PasswordSettings struct {
	HistoryDepth  int           `mapstructure:"history_depth"`
	ResetTokenTTL time.Duration `mapstructure:"reset_token_ttl"`
	ResetOTPTTL   time.Duration `mapstructure:"reset_otp_ttl"`
}

type RecoverySettings struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RateLimitSettings configures sliding-window throttles for the
// credential-facing endpoints. A max-attempts value of zero disables the
// corresponding limit.
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts         int           `mapstructure:"login_max_attempts"`
	RegisterMaxAttempts      int           `mapstructure:"register_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

type MFASettings struct {
	EnforceInDev bool `mapstructure:"enforce_in_dev"`
}

type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type NotifySettings struct {
	Provider    string `mapstructure:"provider"`
	FromAddress string `mapstructure:"from_address"`
	SESRegion   string `mapstructure:"ses_region"`
	BaseURL     string `mapstructure:"base_url"`
}

type TelemetrySettings struct {
	MetricsPort int `mapstructure:"metrics_port"`
}

// Load reads configuration from the environment (CASTELLAN_ prefix) with
// sensible defaults, then validates it. A validation failure is fatal at
// startup: the service must not issue credentials with undefined lifetimes.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CASTELLAN")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.enabled",
		"jwt.signing_secret",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"login.max_failed_attempts",
		"login.lockout_duration",
		"session.idle_timeout",
		"session.hard_ttl",
		"password.history_depth",
		"password.reset_token_ttl",
		"password.reset_otp_ttl",
		"recovery.token_ttl",
		"mfa.enforce_in_dev",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.register_max_attempts",
		"rate_limit.password_reset_max_attempts",
		"app.allowed_origins",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"notify.provider",
		"notify.from_address",
		"notify.ses_region",
		"notify.base_url",
		"telemetry.metrics_port",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations under which token issuance would be
// undefined. Fail closed: these errors are fatal, never retried.
func (c *AppConfig) Validate() error {
	if c.JWT.AccessTokenTTL <= 0 {
		return fmt.Errorf("config: jwt.access_token_ttl must be a positive duration, got %s", c.JWT.AccessTokenTTL)
	}
	if c.JWT.RefreshTokenTTL <= 0 {
		return fmt.Errorf("config: jwt.refresh_token_ttl must be a positive duration, got %s", c.JWT.RefreshTokenTTL)
	}
	if strings.TrimSpace(c.JWT.SigningSecret) == "" {
		return fmt.Errorf("config: jwt.signing_secret is required")
	}
	if c.Login.MaxFailedAttempts <= 0 {
		return fmt.Errorf("config: login.max_failed_attempts must be positive, got %d", c.Login.MaxFailedAttempts)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("config: session.idle_timeout must be a positive duration, got %s", c.Session.IdleTimeout)
	}
	if c.Session.HardTTL <= 0 {
		return fmt.Errorf("config: session.hard_ttl must be a positive duration, got %s", c.Session.HardTTL)
	}
	if c.Password.HistoryDepth < 0 {
		return fmt.Errorf("config: password.history_depth must not be negative, got %d", c.Password.HistoryDepth)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "castellan")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "castellan")
	v.SetDefault("postgres.password", "castellan_password")
	v.SetDefault("postgres.database", "castellan")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "castellan")
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("jwt.issuer", "castellan")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("login.max_failed_attempts", 5)
	v.SetDefault("login.lockout_duration", "15m")

	v.SetDefault("session.idle_timeout", "30m")
	v.SetDefault("session.hard_ttl", "24h")

	v.SetDefault("password.history_depth", 5)
	v.SetDefault("password.reset_token_ttl", "1h")
	v.SetDefault("password.reset_otp_ttl", "10m")

	v.SetDefault("recovery.token_ttl", "30m")

	v.SetDefault("mfa.enforce_in_dev", false)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.register_max_attempts", 3)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)

	v.SetDefault("app.allowed_origins", []string{"*"})

	v.SetDefault("argon2.memory", 65536)
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("notify.provider", "console")
	v.SetDefault("notify.from_address", "no-reply@castellan.local")
	v.SetDefault("notify.ses_region", "us-east-1")
	v.SetDefault("notify.base_url", "http://localhost:8080")

	v.SetDefault("telemetry.metrics_port", 9090)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "CASTELLAN_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
