package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-service/internal/auth"
	"account-service/internal/config"
	apphttp "account-service/internal/http"
	"account-service/internal/notify"
	"account-service/internal/repository/sqlite"
	"account-service/internal/service"
	"account-service/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := sqlite.Migrate(ctx, db, logger); err != nil {
		logger.Fatalf("migrate database: %v", err)
	}
	store := sqlite.NewStore(db)

	sender, err := buildSender(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup notification sender: %v", err)
	}
	dispatcher := notify.NewDispatcher(notify.Config{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Logger:    logger,
	}, sender)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatalf("start dispatcher: %v", err)
	}

	sessions, err := auth.NewSessionIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatalf("session issuer: %v", err)
	}

	verification := service.NewVerificationService(store, dispatcher, service.VerificationConfig{
		BaseURL:     cfg.Server.BaseURL,
		TTL:         cfg.Verification.TTL,
		Lockout:     cfg.Verification.Lockout,
		MaxAttempts: cfg.Verification.MaxAttempts,
	}, logger)
	users := service.NewAuthService(service.AuthDependencies{
		Store:        store,
		Hasher:       auth.NewHasher(cfg.Auth.PasswordCost),
		Sessions:     sessions,
		Verification: verification,
		Notifier:     dispatcher,
		Logger:       logger,
		SessionTTL:   cfg.Auth.SessionTTL,
	})

	created, err := users.EnsureAdmin(ctx, service.AdminSeed{
		Username: cfg.Admin.Username,
		Email:    cfg.Admin.Email,
		Password: cfg.Admin.Password,
	})
	if err != nil {
		logger.Fatalf("seed admin: %v", err)
	}
	if created {
		logger.Infof("created admin account %s", cfg.Admin.Email)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(apphttp.RequestLogger(logger), gin.Recovery())
	handler := apphttp.NewHandler(users, verification, sessions, logger, cfg.Auth.SecureCookie)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	dispatcher.Shutdown()

	logger.Info("bye")
}

func buildSender(ctx context.Context, cfg config.Config, logger *logrus.Logger) (notify.Sender, error) {
	if cfg.Notify.Sender != config.SenderS3 {
		logger.Info("verification links are written to the log")
		return notify.NewLogSender(logger), nil
	}

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	outbox := notify.NewOutboxSender(store, cfg.Storage.KeyPrefix)
	if pending, err := outbox.Pending(ctx); err != nil {
		logger.Warnf("list verification outbox: %v", err)
	} else {
		logger.Infof("verification outbox holds %d messages", len(pending))
	}
	return outbox, nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*storage.S3Store, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Store(client, cfg.Storage.Bucket)
}
