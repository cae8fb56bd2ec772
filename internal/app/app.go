// -----------------------------------------------------------------------
// App - Dependency wiring and lifecycle for the coordination service
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/executor"
	"github.com/ternarybob/quorum/internal/extractors"
	"github.com/ternarybob/quorum/internal/handlers"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/orchestrator"
	"github.com/ternarybob/quorum/internal/queue"
	"github.com/ternarybob/quorum/internal/services/arbitration"
	"github.com/ternarybob/quorum/internal/services/compare"
	"github.com/ternarybob/quorum/internal/services/complexity"
	"github.com/ternarybob/quorum/internal/services/documents"
	"github.com/ternarybob/quorum/internal/services/events"
	"github.com/ternarybob/quorum/internal/services/merge"
	"github.com/ternarybob/quorum/internal/services/resources"
	"github.com/ternarybob/quorum/internal/services/retention"
	"github.com/ternarybob/quorum/internal/services/webhook"
	badgerstore "github.com/ternarybob/quorum/internal/storage/badger"
	"github.com/ternarybob/quorum/internal/tracker"
	"github.com/ternarybob/quorum/internal/worker"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *badgerstore.Manager
	QueueManager   interfaces.QueueManager
	EventService   interfaces.EventService
	Tracker        interfaces.JobTracker
	Registry       interfaces.ExtractorRegistry
	Orchestrator   *orchestrator.Orchestrator
	Arbitration    interfaces.ArbitrationService
	Dispatcher     interfaces.WebhookDispatcher
	Writer         *documents.Writer
	WorkerPool     *worker.WorkerPool
	Sweeper        *retention.Sweeper

	// HTTP handlers
	JobHandler       *handlers.JobHandler
	ExtractorHandler *handlers.ExtractorHandler
	StatusHandler    *handlers.StatusHandler
	WSHandler        *handlers.WebSocketHandler
}

// New initializes the application with all dependencies.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badgerstore.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	queueManager, err := queue.NewBadgerManager(
		storageManager.DB().Store().Badger(),
		cfg.Queue.QueueName,
		common.ParseDurationOr(cfg.Queue.VisibilityTimeout, 0),
		cfg.Queue.MaxReceive,
	)
	if err != nil {
		_ = storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	app.QueueManager = queueManager

	app.EventService = events.NewService(logger)
	app.Tracker = tracker.New(storageManager.JobStorage(), app.EventService, logger)
	app.Registry = extractors.NewRegistry(cfg, logger)

	analyzer := complexity.NewAnalyzer(storageManager.StateStore(), logger)
	gate := resources.NewGate(cfg.Resources.MinFreeMemoryPct, logger)
	exec := executor.New(
		cfg.Extraction.MaxParallel,
		common.ParseDurationOr(cfg.Extraction.PerExtractorTimeout, 0),
		logger,
	)
	comparator := compare.New(
		cfg.Comparison.SimilarityThreshold,
		cfg.Comparison.AutoMergeThreshold,
		logger,
	)
	merger := merge.New(logger)
	app.Writer = documents.NewWriter(cfg.Storage.Output.Dir, logger)

	baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	app.Dispatcher = webhook.NewDispatcher(&cfg.Webhook, baseURL, logger)

	app.Orchestrator = orchestrator.New(
		app.Tracker, analyzer, gate, app.Registry,
		exec, comparator, merger, app.Writer, app.Dispatcher,
		cfg, logger,
	)
	app.Arbitration = arbitration.NewService(
		app.Tracker, storageManager.StateStore(),
		comparator, merger, app.Writer, app.Dispatcher,
		logger,
	)

	app.WorkerPool = worker.NewWorkerPool(queueManager, logger, cfg.Queue.Concurrency)
	app.WorkerPool.RegisterExecutor(
		models.MessageTypeExtraction,
		worker.NewExtractionExecutor(app.Orchestrator),
	)
	app.WorkerPool.OnDeadLetter(func(ctx context.Context, msg *models.QueueMessage) {
		jobErr := models.NewJobError(models.ErrKindTransientStateStore,
			"job message exceeded its redelivery budget")
		if err := app.Tracker.SetError(ctx, msg.JobID, jobErr); err != nil {
			logger.Warn().Err(err).Str("job_id", msg.JobID).
				Msg("Failed to record dead-letter error")
			return
		}
		if _, err := app.Tracker.UpdateState(ctx, msg.JobID, models.JobStateFailed); err != nil {
			logger.Warn().Err(err).Str("job_id", msg.JobID).
				Msg("Failed to fail dead-lettered job")
		}
	})

	app.Sweeper = retention.NewSweeper(storageManager.JobStorage(), app.Writer, cfg.Retention, logger)

	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, logger)
	app.JobHandler = handlers.NewJobHandler(
		app.Tracker, queueManager, app.Arbitration,
		app.Writer, app.EventService, cfg, logger,
	)
	app.ExtractorHandler = handlers.NewExtractorHandler(app.Registry, logger)
	app.StatusHandler = handlers.NewStatusHandler(queueManager, app.Registry, logger)

	logger.Info().
		Int("workers", cfg.Queue.Concurrency).
		Int("extractors", len(app.Registry.All())).
		Msg("Application wired")

	return app, nil
}

// Start launches the background workers and the retention schedule.
func (a *App) Start() error {
	a.WorkerPool.Start()
	if err := a.Sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start retention sweeper: %w", err)
	}
	return nil
}

// Close tears down components in reverse dependency order.
func (a *App) Close() error {
	a.Sweeper.Stop()
	a.WorkerPool.Stop()
	a.WSHandler.Close()

	if err := a.Dispatcher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Webhook dispatcher close failed")
	}
	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	if err := a.QueueManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Queue close failed")
	}
	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
		return err
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
