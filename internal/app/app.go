package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/handlers"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/services/dedup"
	"github.com/lithium-07/dedup-webset/internal/services/events"
	"github.com/lithium-07/dedup-webset/internal/services/ingest"
	"github.com/lithium-07/dedup-webset/internal/services/llm"
	"github.com/lithium-07/dedup-webset/internal/services/retention"
	"github.com/lithium-07/dedup-webset/internal/services/upstream"
	"github.com/lithium-07/dedup-webset/internal/services/vector"
	badgerstore "github.com/lithium-07/dedup-webset/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	Bus            interfaces.StreamBus
	Provider       interfaces.WebsetProvider
	VectorService  interfaces.VectorService
	LLMService     interfaces.LLMService
	URLResolver    *dedup.URLResolver
	Controller     *ingest.Controller
	Sweeper        *retention.Sweeper

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	WebsetHandler  *handlers.WebsetHandler
	StreamHandler  *handlers.StreamHandler
	WSHandler      *handlers.WebSocketHandler
	HistoryHandler *handlers.HistoryHandler
	StatsHandler   *handlers.StatsHandler
}

// New wires every service and handler from configuration.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	if err := a.initServices(); err != nil {
		return nil, err
	}
	a.initHandlers()

	logger.Info().
		Bool("dedup_enabled", config.Dedup.Enabled).
		Msg("Application initialized")
	return a, nil
}

func (a *App) initServices() error {
	storageManager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.Bus = events.NewBus(a.Logger, a.Config.Stream.BufferSize)

	provider, err := upstream.NewExaClient(&a.Config.Upstream, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize upstream client: %w", err)
	}
	a.Provider = provider

	a.VectorService = vector.NewClient(&a.Config.Vector, a.Logger)

	llmService, err := llm.NewLLMService(&a.Config.LLM, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	a.LLMService = llmService

	if a.Config.Dedup.URLResolution.Enabled {
		a.URLResolver = dedup.NewURLResolver(
			a.Logger,
			common.Duration(a.Config.Dedup.URLResolution.Timeout),
			a.Config.Dedup.URLResolution.CacheSize,
		)
	}

	a.Controller = ingest.NewController(
		a.Config, a.Provider, a.StorageManager, a.Bus,
		a.VectorService, a.LLMService, a.URLResolver, a.Logger,
	)

	a.Sweeper = retention.NewSweeper(&a.Config.Retention, a.StorageManager, a.Logger)
	if err := a.Sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start retention sweeper: %w", err)
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.WebsetHandler = handlers.NewWebsetHandler(a.Controller, a.Logger)
	a.StreamHandler = handlers.NewStreamHandler(a.Bus, a.StorageManager.JobStorage(), a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Bus, a.StorageManager.JobStorage(), a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.StorageManager, a.Logger)
	a.StatsHandler = handlers.NewStatsHandler(a.StorageManager, a.Controller, a.URLResolver, a.Sweeper, a.Logger)
}

// Close shuts the application down in dependency order: ingestion first so no
// writes race the storage close.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Controller != nil {
		if err := a.Controller.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Ingestion shutdown did not finish cleanly")
		}
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("LLM service close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
