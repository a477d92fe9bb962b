package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/ShemaiahYaba/academic-repo/internal/app"
	"github.com/ShemaiahYaba/academic-repo/internal/authstate"
	"github.com/ShemaiahYaba/academic-repo/internal/credentials"
	"github.com/ShemaiahYaba/academic-repo/internal/docstore"
	"github.com/ShemaiahYaba/academic-repo/internal/guard"
	"github.com/ShemaiahYaba/academic-repo/internal/observability"
	"github.com/ShemaiahYaba/academic-repo/internal/papers"
	"github.com/ShemaiahYaba/academic-repo/internal/platform/cache"
	"github.com/ShemaiahYaba/academic-repo/internal/platform/db"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
	"github.com/ShemaiahYaba/academic-repo/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	mailQueue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mailQueue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	uploads, err := docstore.NewMinioStore(ctx, docstore.Config{
		Endpoint:  cfg.DocstoreEndpoint,
		AccessKey: cfg.DocstoreAccessKey,
		SecretKey: cfg.DocstoreSecretKey,
		Bucket:    cfg.DocstoreBucket,
		UseSSL:    cfg.DocstoreUseSSL,
	})
	if err != nil {
		logger.Error("connect document store", slog.Any("error", err))
		os.Exit(1)
	}

	backend := credentials.NewBackend(credentials.BackendConfig{
		Logger:      logger,
		Users:       credentials.NewUserRepository(pool),
		Redis:       redisClient,
		Mail:        mailQueue,
		ClientID:    cfg.ClientID,
		TokenSecret: cfg.TokenSecret,
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
	})

	profileStore := profiles.NewStore(pool)
	metrics := observability.NewMetrics()

	engine := authstate.New(authstate.Config{
		Credentials: backend,
		Profiles:    profileStore,
		Logger:      logger,
		Metrics:     metrics,
	})

	authHandler := authstate.NewHandler(logger, engine)
	profileHandler := authstate.NewProfileHandler(logger, engine)
	papersHandler := papers.NewHandler(logger, papers.NewRepository(pool), uploads, engine)
	authGuard := guard.Middleware{Engine: engine, Logger: logger, LoginPath: cfg.LoginPath}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		ProfileHandler: profileHandler,
		PapersHandler:  papersHandler,
		JobsHandler:    jobsHandler,
		Guard:          authGuard,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return engine.Run(groupCtx)
	})
	group.Go(func() error {
		return backend.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runtime", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
