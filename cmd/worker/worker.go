package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vigyanshaala/mdm-geofence-worker/internal/config"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/db"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/geofence"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/mq"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/offline"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/repository"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/server"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingest *service.IngestService,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.IngestQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.IngestExchange,
		RoutingKey:       cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: ingest.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	// Register lifecycle hooks
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting telemetry consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

func startServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, srv *server.Server) {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServicePort),
		Handler: srv.Router(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting http server", zap.Int("port", cfg.ServicePort))
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping http server")
			return httpServer.Shutdown(ctx)
		},
	})
}

func startSweeper(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, sweeper *service.SweepService) {
	if !cfg.Sweep.Enabled {
		logger.Info("offline sweep scheduler disabled")
		return
	}

	interval := time.Duration(cfg.Sweep.IntervalSeconds) * time.Second
	timeout := time.Duration(cfg.Sweep.TimeoutSeconds) * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting offline sweep scheduler", zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case tick := <-ticker.C:
						runCtx, cancelRun := context.WithTimeout(ctx, timeout)
						summary, err := sweeper.Run(runCtx, tick.UTC())
						cancelRun()
						if err != nil {
							// Transient failure; the next tick retries.
							logger.Error("sweep cycle failed", zap.Error(err))
							continue
						}
						logger.Info("sweep cycle complete",
							zap.Int("devices_checked", summary.DevicesChecked),
							zap.Int("tamper_events_created", summary.TamperEventsCreated))
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			logger.Info("offline sweep scheduler stopped")
			return nil
		},
	})
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideEvaluator creates a new geofence evaluator instance
func ProvideEvaluator(repo *repository.Repository, logger *zap.Logger) *geofence.Evaluator {
	return geofence.NewEvaluator(repo, logger)
}

// ProvideDetector creates a new offline sweep detector instance
func ProvideDetector(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *offline.Detector {
	thresholds := offline.Thresholds{
		Min:      time.Duration(cfg.Offline.MinOfflineMinutes) * time.Minute,
		Medium:   time.Duration(cfg.Offline.MediumMinutes) * time.Minute,
		High:     time.Duration(cfg.Offline.HighMinutes) * time.Minute,
		Critical: time.Duration(cfg.Offline.CriticalMinutes) * time.Minute,
	}
	return offline.NewDetector(repo, thresholds, logger)
}

// ProvideIngestService creates a new ingest service instance
func ProvideIngestService(
	repo *repository.Repository,
	evaluator *geofence.Evaluator,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.IngestService {
	return service.NewIngestService(repo, evaluator, publisher, cfg, logger)
}

// ProvideSweepService creates a new sweep service instance
func ProvideSweepService(
	detector *offline.Detector,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.SweepService {
	return service.NewSweepService(detector, publisher, cfg, logger)
}

// ProvideServer creates a new HTTP server instance
func ProvideServer(
	evaluator *geofence.Evaluator,
	sweeper *service.SweepService,
	detector *offline.Detector,
	logger *zap.Logger,
) *server.Server {
	return server.New(evaluator, sweeper, detector, logger)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.WorkerExchange, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
