package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/basecrm/basecrm-api/api/swagger"
	"github.com/basecrm/basecrm-api/internal/handler"
	"github.com/basecrm/basecrm-api/internal/middleware"
	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/internal/repository"
	"github.com/basecrm/basecrm-api/internal/service"
	"github.com/basecrm/basecrm-api/pkg/cache"
	"github.com/basecrm/basecrm-api/pkg/config"
	"github.com/basecrm/basecrm-api/pkg/database"
	"github.com/basecrm/basecrm-api/pkg/jobs"
	"github.com/basecrm/basecrm-api/pkg/logger"
	"github.com/basecrm/basecrm-api/pkg/mail"
	corsmiddleware "github.com/basecrm/basecrm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/basecrm/basecrm-api/pkg/middleware/requestid"
)

// @title BaseCRM API
// @version 1.0.0
// @description Authentication and user management backend for BaseCRM
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Redis only backs the lockout counters; run without it rather
		// than refusing logins entirely.
		logr.Sugar().Warnw("redis unavailable, lockout disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	attemptRepo := repository.NewAttemptRepository(redisClient, logr)
	defer attemptRepo.Close()

	tokenSvc, err := service.NewTokenService(cfg.JWT, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init token service", "error", err)
	}

	validate := validator.New()

	mailer := mail.NewSMTPMailer(cfg.SMTP)
	emailQueue := jobs.NewQueue("email", func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(service.EmailJob)
		if !ok {
			return fmt.Errorf("unexpected payload for job %s", job.ID)
		}
		return mailer.Send(payload.To, payload.Subject, payload.HTML)
	}, 2, 3, 30*time.Second, logr)
	emailQueue.Start(ctx)
	defer emailQueue.Stop()

	deviceSvc := service.NewDeviceService(deviceRepo, logr)
	mfaSvc := service.NewMfaService(userRepo, tokenRepo, attemptRepo, deviceRepo, logr, cfg.MFA)
	accountSvc := service.NewAccountService(
		userRepo, tokenRepo, attemptRepo, deviceSvc, mfaSvc, tokenSvc,
		emailQueue, validate, logr,
		service.AccountConfig{ClientURL: cfg.ClientURL, Lockout: cfg.Lockout},
	)
	userSvc := service.NewUserService(userRepo, validate, logr)
	metricsSvc := service.NewMetricsService()

	cookieSecure := cfg.Env == config.EnvProduction
	authHandler := handler.NewAuthHandler(accountSvc, metricsSvc, cookieSecure)
	mfaHandler := handler.NewMfaHandler(mfaSvc, accountSvc, deviceSvc, metricsSvc, authHandler)
	passwordHandler := handler.NewPasswordHandler(accountSvc)
	registerHandler := handler.NewRegisterHandler(accountSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/login", authHandler.Login)
	api.POST("/refreshtoken", authHandler.RefreshToken)
	api.POST("/logout", authHandler.Logout)
	api.POST("/forgotpassword", passwordHandler.ForgotPassword)
	api.POST("/resetpassword", passwordHandler.ResetPassword)
	api.POST("/confirmemail", passwordHandler.ConfirmEmail)

	gate := middleware.MFAGateConfig{
		ExemptPrefixes: []string{
			cfg.APIPrefix + "/login", cfg.APIPrefix + "/refreshtoken",
			cfg.APIPrefix + "/logout", cfg.APIPrefix + "/forgotpassword",
			cfg.APIPrefix + "/resetpassword", cfg.APIPrefix + "/confirmemail",
			cfg.APIPrefix + "/resendconfirmationemail", cfg.APIPrefix + "/mfa",
			"/health", "/ready", "/metrics", "/docs",
		},
		ScopedPaths: []string{cfg.APIPrefix + "/mfa"},
		ScopedPrefixes: []string{
			cfg.APIPrefix + "/mfa/setup",
			cfg.APIPrefix + "/mfa/verify",
		},
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(tokenSvc))
	protected.Use(middleware.EnforceMFA(gate, mfaSvc))

	protected.POST("/resendconfirmationemail", passwordHandler.ResendConfirmation)

	mfa := protected.Group("/mfa")
	mfa.GET("", mfaHandler.Status)
	mfa.POST("/setup", mfaHandler.Setup)
	mfa.POST("", mfaHandler.Enable)
	mfa.DELETE("", mfaHandler.Disable)
	mfa.POST("/verify", mfaHandler.Verify)
	mfa.POST("/verify/trust-device", mfaHandler.VerifyAndTrustDevice)
	mfa.POST("/recovery-codes", mfaHandler.RegenerateRecoveryCodes)
	mfa.GET("/devices", mfaHandler.Devices)
	mfa.DELETE("/devices/:id", mfaHandler.UntrustDevice)

	register := protected.Group("/register")
	register.Use(middleware.RequirePermission(models.PermAddUser))
	register.GET("", registerHandler.GrantableRoles)
	register.POST("", registerHandler.Register)

	users := protected.Group("/users")
	users.Use(middleware.RequirePermission(models.PermViewUser))
	users.GET("", userHandler.List)
	users.GET("/export", userHandler.Export, middleware.Audit(userRepo, models.AuditActionExport, "users"))
	users.GET("/:id", userHandler.Get)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forced shutdown", zap.Error(err))
	}
}
