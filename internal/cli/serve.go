package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/audio-check/internal/auth"
	"github.com/example/audio-check/internal/events"
	"github.com/example/audio-check/internal/handlers"
	"github.com/example/audio-check/internal/metrics"
	"github.com/example/audio-check/internal/repository"
	"github.com/example/audio-check/internal/server"
	"github.com/example/audio-check/internal/usecase"
)

const (
	orchestratorSlots = 1024
	memoryCacheSize   = 4096
	shutdownTimeout   = 15 * time.Second
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	httpServer := &http.Server{Addr: cfg.Server.Addr}
	api := server.NewRuntime(httpServer, shutdownTimeout, logger)
	abort := func(err error) error {
		return errors.Join(err, api.Close())
	}

	collectors := metrics.New()

	db, err := server.OpenDatabase(startCtx, cfg.Server.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	api.Own("postgres", sqlDB)

	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(startCtx); err != nil {
		return abort(err)
	}

	var cache usecase.Cache
	if cfg.Server.RedisAddr != "" {
		redisClient, err := server.OpenRedis(startCtx, cfg.Server.RedisAddr, logger)
		if err != nil {
			return abort(err)
		}
		api.Own("redis", redisClient)
		cache = usecase.NewRedisCache(redisClient)
	} else {
		memory, err := usecase.NewMemoryCache(memoryCacheSize)
		if err != nil {
			return abort(err)
		}
		logger.Warn("no redis address configured, caching results in memory")
		cache = memory
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Events.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger)
		api.Own("kafka", publisher)
	}

	client := newTransport(cfg, nil, collectors, logger)
	interp := newInterpreter(cfg)
	registry, err := usecase.NewOrchestratorRegistry(orchestratorSlots, func() *usecase.Orchestrator {
		return usecase.NewOrchestrator(client, interp, collectors, logger)
	})
	if err != nil {
		return abort(err)
	}

	uc := usecase.NewAnalysisUseCase(usecase.AnalysisDeps{
		Repository:  repo,
		Cache:       cache,
		Registry:    registry,
		Interpreter: interp,
		Exporter:    newServerExporter(cfg, collectors, logger),
		Publisher:   publisher,
	}, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.Server.JWTSecret, cfg.Server.JWTAudience), handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Metrics:        collectors.Handler(),
	})
	httpServer.Handler = r

	logger.Info("audiocheck API listening", zap.String("addr", cfg.Server.Addr), zap.String("classifier", cfg.UploadURL()))
	return api.Run(ctx)
}
