package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/llm"
	"github.com/GoCodeAlone/mindcare/ai/sentiment"
	"github.com/GoCodeAlone/mindcare/api"
	"github.com/GoCodeAlone/mindcare/config"
	"github.com/GoCodeAlone/mindcare/conversation"
	"github.com/GoCodeAlone/mindcare/events"
	"github.com/GoCodeAlone/mindcare/knowledge"
	"github.com/GoCodeAlone/mindcare/mail"
	"github.com/GoCodeAlone/mindcare/memory"
	"github.com/GoCodeAlone/mindcare/module"
	"github.com/GoCodeAlone/mindcare/observability/metrics"
	"github.com/GoCodeAlone/mindcare/observability/tracing"
	"github.com/GoCodeAlone/mindcare/scale"
	"github.com/GoCodeAlone/mindcare/session"
	"github.com/GoCodeAlone/mindcare/store"
)

const pingTimeout = 2 * time.Second

// buildApp constructs every component described by cfg and registers it with
// a modular application. Resources opened here are closed by the application
// on Stop; on error the ones opened so far are closed before returning.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app modular.Application, err error) {
	app = modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
	health := module.NewHealthChecker("mindcare.health")

	var opened []func() error
	defer func() {
		if err != nil {
			for i := len(opened) - 1; i >= 0; i-- {
				_ = opened[i]()
			}
		}
	}()

	if cfg.Tracing.Enabled {
		app.RegisterModule(module.NewOTelTracing("mindcare.tracing", tracingConfig(cfg.Tracing)))
	}

	// --- Storage ---
	st, pg, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	opened = append(opened, st.Close)
	app.RegisterModule(module.NewCloser("mindcare.store", "user and session records", st))
	if pg != nil {
		health.RegisterCheck("postgres", module.PingCheck(pingTimeout, pg.Pool().Ping))
	}

	var rdb *redis.Client
	if cfg.Memory.ShortTerm == config.BackendRedis || cfg.Lock.Backend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opened = append(opened, rdb.Close)
		app.RegisterModule(module.NewCloser("mindcare.redis", "redis client", rdb))
		health.RegisterCheck("redis", module.PingCheck(pingTimeout, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	// --- Memory ---
	history, err := memory.NewFileStore(cfg.Memory.HistoryDir, cfg.Memory.MaxHistory, logger)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	checkpoints, err := memory.NewCheckpoints(cfg.Memory.CheckpointDir, history, logger)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: %w", err)
	}
	var shortTerm memory.ShortTerm = memory.NewMemoryShortTerm()
	if cfg.Memory.ShortTerm == config.BackendRedis {
		shortTerm = memory.NewRedisShortTerm(rdb, cfg.Redis.Prefix+"stm:", cfg.Memory.ShortTermTTL)
	}

	var lock scale.DistributedLock
	switch cfg.Lock.Backend {
	case config.BackendRedis:
		lock = scale.NewRedisLockWithClient(rdb, cfg.Redis.Prefix+"lock:", cfg.Lock.TTL)
	case config.BackendPostgres:
		lock = scale.NewPGAdvisoryLock(pg.Pool())
	default:
		lock = scale.NewInMemoryLock()
	}

	bulkhead := scale.NewBulkhead(scale.DefaultBulkheadConfig())
	if cfg.Bulkhead.Turns > 0 {
		bulkhead.SetLimit(scale.PoolTurns, cfg.Bulkhead.Turns)
	}
	if cfg.Bulkhead.Facial > 0 {
		bulkhead.SetLimit(scale.PoolFacial, cfg.Bulkhead.Facial)
	}

	// --- Analysis ---
	generator, err := llm.NewClient(llm.ClientConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxRetries:  cfg.LLM.MaxRetries,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("language model: %w", err)
	}

	emotions, emErr := emotion.NewAnalyzer(cfg.Emotion.ModelPath)
	if emErr != nil {
		logger.Warn("Emotion model unavailable, continuing without it", "path", cfg.Emotion.ModelPath, "error", emErr)
	}
	if cfg.Emotion.Watch && cfg.Emotion.ModelPath != "" {
		app.RegisterModule(module.NewComponent("mindcare.emotion.watcher", "reloads the emotion model", emotion.NewWatcher(emotions, logger)))
	}
	health.RegisterCheck("emotion_model", module.DegradedUnless(emotions.Available, "emotion model not loaded"))

	var source knowledge.Source
	if cfg.Knowledge.Enabled {
		client := &http.Client{Timeout: cfg.Knowledge.Timeout}
		source = knowledge.NewRouter(knowledge.NewWikipedia(client), knowledge.NewArxiv(client), logger)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		mcfg := metrics.DefaultConfig()
		mcfg.Namespace = cfg.Metrics.Namespace
		mcfg.Path = cfg.Metrics.Path
		mcfg.Runtime = true
		collector = metrics.NewWithConfig(mcfg)
	}

	engineCfg := conversation.Config{
		Generator: generator,
		Sentiment: sentiment.NewAnalyzer(),
		Emotion:   emotions,
		Knowledge: source,
		Tracer:    tracing.NewTurnTracer(nil),
		Logger:    logger,
	}
	if collector != nil {
		engineCfg.Observer = collector
	}
	engine, err := conversation.NewEngine(engineCfg)
	if err != nil {
		return nil, err
	}

	// --- Outbound ---
	var publishers []events.Publisher
	if cfg.Events.NATSURL != "" {
		p := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.NATSPrefix, logger)
		app.RegisterModule(module.NewComponent("mindcare.events.nats", "NATS event publisher", p))
		publishers = append(publishers, p)
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		p := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger)
		app.RegisterModule(module.NewComponent("mindcare.events.kafka", "Kafka event publisher", p))
		publishers = append(publishers, p)
	}

	svcCfg := session.Config{
		Engine:      engine,
		Store:       st,
		History:     history,
		Checkpoints: checkpoints,
		ShortTerm:   shortTerm,
		Mailer:      mail.NewSMTPMailer(cfg.SMTP, logger),
		Lock:        lock,
		Bulkhead:    bulkhead,
		Metrics:     collector,
		Logger:      logger,
		TurnTimeout: cfg.Server.TurnTimeout,
	}
	if len(publishers) > 0 {
		svcCfg.Publisher = events.NewMulti(logger, publishers...)
	}
	sessions, err := session.NewService(svcCfg)
	if err != nil {
		return nil, err
	}

	var detector *facial.Detector
	if cfg.Facial.URL != "" {
		client := &http.Client{Timeout: cfg.Facial.Timeout}
		detector = facial.NewDetector(logger, facial.NewHTTPBackends(cfg.Facial.URL, cfg.Facial.Detectors, client)...)
	}

	// --- HTTP ---
	router := api.NewRouter(api.Services{
		Sessions: sessions,
		Facial:   detector,
		Bulkhead: bulkhead,
		Metrics:  collector,
		Logger:   logger,
		Ready:    health.ReadyHandler(),
		Live:     health.LiveHandler(),
	}, api.Config{
		JWTSecret:      cfg.Auth.Secret,
		JWTIssuer:      cfg.Auth.Issuer,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ServiceName:    "mindcare",
		Version:        version,
	})
	app.RegisterModule(module.NewComponent("mindcare.ratelimit", "per-client rate limiter", routerStopper{router}))
	app.RegisterModule(health)
	app.RegisterModule(module.NewHTTPServer("mindcare.http", router, module.HTTPServerConfig{
		Address:         cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}))
	return app, nil
}

// tracingConfig stamps the exporter settings with this binary's version.
func tracingConfig(cfg config.TracingConfig) tracing.Config {
	return tracing.Config{
		Endpoint:    cfg.Endpoint,
		Insecure:    cfg.Insecure,
		SampleRate:  cfg.SampleRate,
		Version:     version,
		Environment: cfg.Environment,
	}
}

// openStore opens the configured record store. pg is non-nil only for the
// postgres driver.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, *store.PGStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		return s, nil, nil
	case config.DriverPostgres:
		s, err := store.NewPGStore(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return s, s, nil
	default:
		return store.NewMemoryStore(), nil, nil
	}
}

// routerStopper releases the router's background resources on shutdown.
type routerStopper struct{ r *api.Router }

func (routerStopper) Start(context.Context) error { return nil }

func (s routerStopper) Stop(context.Context) error {
	s.r.Stop()
	return nil
}
