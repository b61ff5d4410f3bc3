package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/database"
	kafkainfra "github.com/castellan-io/castellan/internal/infra/kafka"
	"github.com/castellan-io/castellan/internal/infra/logger"
	"github.com/castellan-io/castellan/internal/infra/notify"
	redisinfra "github.com/castellan-io/castellan/internal/infra/redis"
	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/infra/telemetry"
	postgresrepo "github.com/castellan-io/castellan/internal/repository/postgres"
	redisrepo "github.com/castellan-io/castellan/internal/repository/redis"
	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/transport/http/routes"
	"github.com/castellan-io/castellan/internal/usecase"
)

// Application owns every long-lived component and its shutdown order.
type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	kafka  *kafkainfra.Producer
}

// New builds the full dependency graph from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := telemetry.Attach(cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	codec, err := security.NewTokenCodec(cfg.JWT.SigningSecret, cfg.JWT.Issuer)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	hasher := security.NewPasswordHasher(security.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	validator := security.DefaultPasswordValidator()

	repos := postgresrepo.NewRepositories(pool)
	otpStore := redisrepo.NewOTPStore(redisClient.Client(), "castellan:otp")

	var kafkaProducer *kafkainfra.Producer
	var audit port.AuditPublisher
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub audit publisher", zap.Error(err))
			audit = kafkainfra.NewStubPublisher(log)
		} else {
			kafkaProducer = producer
			audit = kafkainfra.NewAuditPublisher(producer, cfg.App)
			log.Info("kafka audit publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka disabled, using stub audit publisher")
		audit = kafkainfra.NewStubPublisher(log)
	}

	notifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	tenantService := usecase.NewTenantService(repos.Tenants, log)
	sessionService := usecase.NewSessionService(cfg, repos.Sessions, repos.Tokens, log)
	tokenService, err := usecase.NewTokenService(cfg, codec, repos.Users, repos.Sessions, repos.Tokens, repos.Tenants, audit, log)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init token service: %w", err)
	}

	authService := usecase.NewAuthService(cfg, repos.Users, hasher, codec, tokenService, sessionService, audit, log)
	registrationService := usecase.NewRegistrationService(cfg, repos.Users, hasher, validator, tokenService, tenantService, notifier, log)
	passwordService := usecase.NewPasswordService(cfg, repos.Users, hasher, validator, tokenService, sessionService, otpStore, notifier, audit, log)
	mfaService := usecase.NewMFAService(cfg, repos.Users, log)
	guard := usecase.NewAccessGuard(tenantService, audit, log)
	guard.WithDecisionObserver(metrics.RecordAccessDecision)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitStore(redisClient.Client(), "castellan:ratelimit", rateLimitWindow*2)
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Metrics:     metrics,
		RateLimiter: rateLimiter,
		Codec:       codec,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:         authService,
			Registration: registrationService,
			Passwords:    passwordService,
			MFA:          mfaService,
			Sessions:     sessionService,
			Tokens:       tokenService,
			Tenants:      tenantService,
			Guard:        guard,
		},
	})

	return &Application{
		cfg:    cfg,
		engine: engine,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		kafka:  kafkaProducer,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down cleanly.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.pool.Close()
	defer func() {
		_ = a.redis.Close()
	}()
	defer func() {
		if a.kafka != nil {
			_ = a.kafka.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func buildNotifier(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (port.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Notify.Provider)) {
	case "ses":
		return notify.NewSESNotifier(ctx, cfg.Notify)
	default:
		return notify.NewConsoleNotifier(log), nil
	}
}
