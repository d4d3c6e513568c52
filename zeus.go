// Package zeus is the public API for embedding the ZEUS agent runtime.
//
// Callers construct the server with options and run it until ctx ends:
//
//	app, err := zeus.New(
//	    zeus.WithVersion(version),
//	    zeus.WithLogger(logger),
//	    zeus.WithEventHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the other way around. Public
// types (ActivityEvent, ChatReply) carry no internal types; the adapters
// converting between both sides live in this file.
package zeus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/zeus-ia/zeus/internal/activity"
	"github.com/zeus-ia/zeus/internal/agent"
	"github.com/zeus-ia/zeus/internal/alert"
	"github.com/zeus-ia/zeus/internal/approval"
	"github.com/zeus-ia/zeus/internal/auth"
	"github.com/zeus-ia/zeus/internal/config"
	"github.com/zeus-ia/zeus/internal/events"
	"github.com/zeus-ia/zeus/internal/executor"
	"github.com/zeus-ia/zeus/internal/handlers"
	"github.com/zeus-ia/zeus/internal/llm"
	"github.com/zeus-ia/zeus/internal/mcp"
	"github.com/zeus-ia/zeus/internal/memory"
	"github.com/zeus-ia/zeus/internal/ratelimit"
	"github.com/zeus-ia/zeus/internal/recall"
	"github.com/zeus-ia/zeus/internal/runtime"
	"github.com/zeus-ia/zeus/internal/safeguard"
	"github.com/zeus-ia/zeus/internal/search"
	"github.com/zeus-ia/zeus/internal/server"
	"github.com/zeus-ia/zeus/internal/service/embedding"
	"github.com/zeus-ia/zeus/internal/storage"
	"github.com/zeus-ia/zeus/internal/telemetry"
	"github.com/zeus-ia/zeus/migrations"
)

// App is the ZEUS server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	runtime      *runtime.Runtime
	worker       *executor.Worker // nil when automation is disabled
	publisher    events.Publisher
	limiter      ratelimit.Limiter
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises ZEUS. It connects to the database, runs migrations, wires
// every subsystem and returns a ready-to-run App. It does NOT start any
// goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("zeus starting", "version", version, "port", cfg.Port)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		InstanceID:  cfg.InstanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// cleanup releases what has been built so far when a later step fails.
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		_ = otelShutdown(context.Background())
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("storage: %w", err)
	}
	cleanups = append(cleanups, db.Close)

	if err := migrate(ctx, db, cfg, o.extraMigrations, logger); err != nil {
		cleanup()
		return nil, err
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Long-term recall: embeddings plus the optional Qdrant index.
	embedder := embedding.New(embedding.Settings{
		Provider:     cfg.EmbeddingProvider,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIModel:  cfg.EmbeddingModel,
		OllamaURL:    cfg.OllamaURL,
		OllamaModel:  cfg.OllamaEmbedModel,
		Dimensions:   cfg.EmbeddingDimensions,
	}, llm.OllamaReachable, logger)

	var index search.Index
	var qdrantIndex *search.QdrantIndex
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		cleanups = append(cleanups, func() { _ = qdrantIndex.Close() })
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			cleanup()
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		index = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}
	recallSvc := recall.New(db, embedder, index, logger)

	// Activity events fan out to Kafka (when configured), SSE subscribers
	// and any registered hooks.
	broker := server.NewBroker(logger)
	publishers := events.Multi{events.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger), broker}
	for _, h := range o.eventHooks {
		publishers = append(publishers, &eventHookAdapter{hook: h})
	}
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info("activity events: kafka", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	}

	var notifier alert.Notifier = alert.New(cfg.SlackBotToken, cfg.SlackAlertChannel, cfg.SlackAPIURL)
	if o.notifier != nil {
		notifier = &notifierAdapter{n: o.notifier}
	}

	provider := llm.New(llm.Settings{
		Provider:        cfg.LLMProvider,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIModel:     cfg.OpenAIModel,
		OllamaURL:       cfg.OllamaURL,
		OllamaChatModel: cfg.OllamaChatModel,
	}, logger)

	agents, err := agent.NewRegistry(agent.Deps{
		Provider:    provider,
		Safeguard:   safeguard.DefaultConfig(),
		HITLEnabled: cfg.HITLEnabled,
		Planner:     activity.NewPlanner(db, publishers, logger),
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("agents: %w", err)
	}

	handlerRegistry := handlers.NewRegistry(handlers.Options{
		OutputDir:       cfg.AgentOutputDir,
		LogDir:          cfg.AutomationLogDir,
		BackupSource:    cfg.BackupSource,
		BackupDir:       cfg.BackupDir,
		InternalActions: cfg.InternalActions,
		Notifier:        notifier,
		Logger:          logger,
	})

	memorySvc := memory.NewService(db)

	var approvals *approval.Service
	rtDeps := runtime.Deps{
		Agents:   agents,
		Memory:   memorySvc,
		Handlers: handlerRegistry,
		Recall:   recallSvc,
		Logger:   logger,
	}
	if cfg.HITLEnabled {
		approvals = approval.New(db, logger)
		rtDeps.Approvals = approvals
	}
	rt := runtime.New(rtDeps)

	activities := activity.NewService(db, rt, publishers, logger)

	var worker *executor.Worker
	if cfg.AutomationEnabled {
		worker = executor.New(activities, executor.Config{
			Interval:    cfg.AutomationInterval,
			Batch:       cfg.AutomationBatch,
			Concurrency: cfg.AutomationConcurrency,
		}, logger)
	}

	mcpSrv := mcp.New(mcp.Deps{
		Runtime:    rt,
		Activities: activities,
		Memory:     memorySvc,
		Recall:     recallSvc,
		Agents:     agents,
		Logger:     logger,
	}, version)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		Store:               db,
		JWTMgr:              jwtMgr,
		Runtime:             rt,
		Activities:          activities,
		Memory:              memorySvc,
		Agents:              agents,
		Logger:              logger,
		Recall:              recallSvc,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Middlewares:         o.middlewares,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		LLMProvider:         provider.Name(),
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}
	// Typed nils must not leak into the optional interfaces.
	if approvals != nil {
		srvCfg.Approvals = approvals
	}
	if qdrantIndex != nil {
		srvCfg.Qdrant = qdrantIndex
	}
	srv := server.New(srvCfg)

	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminAPIKey, cfg.AdminCompany); err != nil {
		_ = limiter.Close()
		cleanup()
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		runtime:      rt,
		worker:       worker,
		publisher:    publishers,
		limiter:      limiter,
		qdrantIndex:  qdrantIndex,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// migrate applies the embedded migrations, then extra ones, and checks the
// schema actually exists.
func migrate(ctx context.Context, db *storage.DB, cfg config.Config, extra []fs.FS, logger *slog.Logger) error {
	if cfg.SkipEmbeddedMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range extra {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			return fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// If the vector extension is missing the schema silently ends up empty.
	var schemaOK bool
	if err := db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'agent_activities')`,
	).Scan(&schemaOK); err != nil {
		return fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		return errors.New("critical table 'agent_activities' does not exist after migration: check that the pgvector extension is available")
	}
	return nil
}

// Run starts the automation worker, the idempotency cleanup loop and the
// HTTP server, then blocks until ctx is cancelled or the server fails.
// On return, Shutdown has already run.
func (a *App) Run(ctx context.Context) error {
	if a.worker != nil {
		a.worker.Start(ctx)
	}
	go a.idempotencyCleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Chat runs one chat turn in-process, bypassing HTTP.
func (a *App) Chat(ctx context.Context, agentName, companyID, threadID, message string) (ChatReply, error) {
	res, err := a.runtime.RunChat(ctx, runtime.ChatRequest{
		Agent:     agentName,
		CompanyID: companyID,
		ThreadID:  threadID,
		Message:   message,
		Metadata:  map[string]any{"source": "cli"},
	})
	reply := ChatReply{
		Success:      res.Success,
		Agent:        res.Agent,
		ThreadID:     res.ThreadID,
		Message:      res.Message,
		Confidence:   res.Confidence,
		HITLRequired: res.HITLRequired,
		Error:        res.Error,
	}
	if err != nil {
		return reply, fmt.Errorf("zeus: chat: %w", err)
	}
	return reply, nil
}

// Shutdown stops accepting HTTP requests, lets in-flight activity executions
// finish, then closes event sinks, the database pool and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("zeus shutting down")

	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.worker != nil {
		drainCtx, drainCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownDrainTimeout)
		a.worker.Drain(drainCtx)
		drainCancel()
	}

	// Closes Kafka and every SSE subscriber.
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("event publisher close failed", "error", err)
	}
	_ = a.limiter.Close()
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("zeus stopped")
	return nil
}

func (a *App) idempotencyCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.IdempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.db.CleanupIdempotencyKeys(opCtx, a.cfg.IdempotencyCompletedTTL, a.cfg.IdempotencyAbandonedTTL)
			cancel()
			if err != nil {
				a.logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

// eventHookAdapter wraps a zeus.EventHook to satisfy events.Publisher.
type eventHookAdapter struct {
	hook EventHook
}

func (a *eventHookAdapter) Publish(ctx context.Context, e events.ActivityEvent) {
	a.hook.OnActivity(ctx, toPublicEvent(e))
}

func (a *eventHookAdapter) Close() error { return nil }

// notifierAdapter wraps a zeus.Notifier to satisfy alert.Notifier.
type notifierAdapter struct {
	n Notifier
}

func (a *notifierAdapter) Notify(ctx context.Context, text string) error {
	return a.n.Notify(ctx, text)
}

func (a *notifierAdapter) Enabled() bool { return true }

func toPublicEvent(e events.ActivityEvent) ActivityEvent {
	return ActivityEvent{
		ActivityID: e.ActivityID,
		Agent:      e.Agent,
		ActionType: e.ActionType,
		Status:     string(e.Status),
		CompanyID:  e.CompanyID,
		At:         e.At,
	}
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
