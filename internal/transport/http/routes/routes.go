package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/infra/telemetry"
	"github.com/castellan-io/castellan/internal/transport/http/handlers"
	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         *usecase.AuthService
	Registration *usecase.RegistrationService
	Passwords    *usecase.PasswordService
	MFA          *usecase.MFAService
	Sessions     *usecase.SessionService
	Tokens       *usecase.TokenService
	Tenants      *usecase.TenantService
	Guard        *usecase.AccessGuard
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Metrics     *telemetry.Provider
	RateLimiter *middleware.RateLimiter
	Codec       *security.TokenCodec
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}

	authMiddleware := middleware.RequireAuth(deps.Codec, deps.Services.Sessions, deps.Logger)

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authHandler := handlers.NewAuthHandler(deps.Config, deps.Services.Auth, deps.Metrics)
		authHandler.RegisterRoutes(authGroup, authMiddleware, buildThrottle(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts)...)

		registrationHandler := handlers.NewRegistrationHandler(deps.Config, deps.Services.Registration)
		registrationHandler.RegisterRoutes(authGroup, authMiddleware, buildThrottle(deps, "auth_register_ip", deps.Config.RateLimit.RegisterMaxAttempts)...)

		passwordGroup := api.Group("/password")
		passwordHandler := handlers.NewPasswordHandler(deps.Services.Passwords)
		passwordHandler.RegisterRoutes(passwordGroup, authMiddleware, buildThrottle(deps, "password_reset_ip", deps.Config.RateLimit.PasswordResetMaxAttempts)...)

		mfaGroup := api.Group("/mfa")
		mfaGroup.Use(authMiddleware)
		mfaHandler := handlers.NewMFAHandler(deps.Services.MFA)
		mfaHandler.RegisterRoutes(mfaGroup)

		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(authMiddleware)
		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions, deps.Services.Tokens)
		sessionHandler.RegisterRoutes(sessionGroup)

		tenantGroup := api.Group("/tenants")
		tenantGroup.Use(authMiddleware)
		tenantHandler := handlers.NewTenantHandler(deps.Services.Tenants, deps.Services.Guard)
		tenantHandler.RegisterRoutes(tenantGroup)
	}

	return r
}

func buildThrottle(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
