package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/mediscan/internal/auth"
	"github.com/example/mediscan/internal/config"
	"github.com/example/mediscan/internal/handlers"
	"github.com/example/mediscan/internal/healthcheck"
	"github.com/example/mediscan/internal/inference"
	"github.com/example/mediscan/internal/metrics"
	"github.com/example/mediscan/internal/repository"
	"github.com/example/mediscan/internal/usecase"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if err := runServer(cmd.Context(), cfg, logger); err != nil {
				logger.Error("server failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	mc, err := loadModel(cfg, logger)
	if err != nil {
		m.SetModelLoaded(cfg.Model.Backend, false)
		return err
	}
	defer func() {
		if err := closeModel(mc); err != nil {
			logger.Warn("failed to close model", zap.Error(err))
		}
	}()
	m.SetModelLoaded(mc.Backend, true)

	pipelineOpts := cfg.PipelineOptions()
	pipelineOpts.Observer = m
	pipeline := inference.New(mc, pipelineOpts, logger)

	db, err := repository.Open(startupCtx, cfg.DatabaseOptions(), logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	repo := repository.NewRepository(db, logger)
	if err := repo.AutoMigrate(startupCtx); err != nil {
		return err
	}

	cache, closeCache, err := openCache(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache() //nolint:errcheck

	namespace, err := decisionNamespace(cfg.Model.Path, cfg.Model.LabelsPath, cfg.PipelineOptions())
	if err != nil {
		return err
	}

	predictions := usecase.NewPredictionUseCase(repo, cache, pipeline, usecase.PredictionOptions{
		Namespace:   namespace,
		DecisionTTL: cfg.Cache.DecisionTTL,
		RecordTTL:   cfg.Cache.RecordTTL,
	}, logger)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty; login tokens cannot be issued")
	}
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, cfg.Auth.TokenTTL)
	users := usecase.NewUserUseCase(repo, issuer, logger)

	gin.SetMode(cfg.Server.GinMode)
	router := handlers.NewRouter(handlers.Dependencies{
		Predictions: predictions,
		Users:       users,
		Model: handlers.ModelInfo{
			Backend:    mc.Backend,
			InputShape: mc.Runtime.InputShape(),
			Labels:     mc.Labels.Len(),
		},
		Auth:        auth.OptionalJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
		RequireAuth: auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
		Metrics:     m.Handler(),
		Logger:      logger,
	}, cfg.Server.CORSOrigins, handlers.RequestLogger(logger), m.Middleware())

	health := healthcheck.NewServer(logger)
	grpcListener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		if err := health.Serve(grpcListener); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	defer health.Stop()

	httpListener, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.RegisterOnShutdown(func() {
		health.SetServing(false)
	})

	health.SetServing(true)
	logger.Info("mediscan API listening", zap.String("addr", httpListener.Addr().String()))
	return serveHTTPServerWithListener(server, cfg.Server.ShutdownTimeout, logger, httpListener)
}
