package cli

import (
	"context"
	"fmt"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/hooks"
	"github.com/apversus/sauai/internal/llm"
	"github.com/apversus/sauai/internal/qa"
	"github.com/apversus/sauai/internal/routing"
	"github.com/apversus/sauai/internal/secrets"
	"github.com/apversus/sauai/internal/store"
)

// loadConfig reads and validates the config. The logger is rebuilt from the
// logging section.
func loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := readConfig(ctx)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// readConfig reads the config file and resolves "ssm:" references without
// validating, for commands that only need part of it.
func readConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if config.HasSecretRefs(&cfg) {
		resolver, err := secrets.NewForRegion(ctx, cfg.Secrets.Region)
		if err != nil {
			return cfg, err
		}
		if err := config.ResolveSecrets(ctx, &cfg, resolver); err != nil {
			return cfg, err
		}
	}
	log = newLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func poolConfig(db config.DatabaseConfig) store.PoolConfig {
	return store.PoolConfig{
		URL:          db.URL,
		MaxOpenConns: db.MaxOpenConns,
		MaxIdleConns: db.MaxIdleConns,
		MaxAttempts:  db.MaxAttempts,
		RetryDelay:   db.RetryDelay,
		RebuildDelay: db.RebuildDelay,
		BusyTimeout:  db.BusyTimeout,
	}
}

// openPool opens the database and reports rebuilds through hm.
func openPool(ctx context.Context, db config.DatabaseConfig, hm *hooks.Manager) (*store.Pool, error) {
	pool, err := store.OpenPool(ctx, poolConfig(db), log)
	if err != nil {
		return nil, err
	}
	if hm != nil {
		pool.OnRebuild(func(cause error) {
			data := map[string]any{"rebuilds": pool.Rebuilds()}
			if cause != nil {
				data["cause"] = cause.Error()
			}
			hm.EmitAsync(context.Background(), hooks.EventPoolRebuilt, data)
		})
	}
	return pool, nil
}

// newQA builds the retrieval chain: the configured model with failover to the
// fallback provider, embeddings from the primary provider, Qdrant for search.
func newQA(ctx context.Context, cfg config.QAConfig) (*qa.RAG, *qa.QdrantRetriever, error) {
	reg, err := llm.NewRegistryFromConfig(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	var fallbacks []string
	if cfg.FallbackProvider != "" && cfg.FallbackProvider != cfg.Provider {
		fallbacks = []string{cfg.FallbackProvider}
	}
	embedder, err := reg.Embedder(cfg.Provider)
	if err != nil {
		return nil, nil, err
	}

	retriever, err := qa.NewQdrantRetriever(qa.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
		TextField:  cfg.Qdrant.TextField,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	if err := retriever.CheckCollection(ctx); err != nil {
		// Search retries on every question, so a missing index is not fatal at startup.
		log.Warn().Err(err).Str("collection", cfg.Qdrant.Collection).Msg("vector collection unavailable")
	}

	rag, err := qa.NewRAG(qa.Options{
		Client:         llm.NewFailoverClient(reg, cfg.Model, fallbacks, log),
		Embedder:       embedder,
		Retriever:      retriever,
		SystemPrompt:   cfg.SystemPrompt,
		Temperature:    cfg.Temperature,
		TopK:           cfg.TopK,
		ChatModel:      cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
		Collection:     cfg.Qdrant.Collection,
	}, log)
	if err != nil {
		retriever.Close()
		return nil, nil, err
	}
	return rag, retriever, nil
}

// app is the assembled message core shared by serve and ask.
type app struct {
	cfg       config.Config
	hooks     *hooks.Manager
	pool      *store.Pool
	users     *store.UserStore
	sessions  *store.SessionStore
	retriever *qa.QdrantRetriever
	router    *routing.Router
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	hm := hooks.NewManager(log)
	hm.OnAll("log", hooks.LogHandler(log.Sub("hooks")))

	pool, err := openPool(ctx, cfg.Database, hm)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		hooks:    hm,
		pool:     pool,
		users:    store.NewUserStore(pool, log),
		sessions: store.NewSessionStore(pool, log),
	}

	rag, retriever, err := newQA(ctx, cfg.QA)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.retriever = retriever

	a.router, err = routing.NewRouter(routing.Deps{
		Users:    a.users,
		Sessions: a.sessions,
		QA:       rag,
		Hooks:    hm,
		Log:      log,
	}, routing.OptionsFromConfig(cfg.Router))
	if err != nil {
		retriever.Close()
		pool.Close()
		return nil, err
	}
	return a, nil
}

// Close drains the router, then releases the vector and database connections.
func (a *app) Close(ctx context.Context) {
	if err := a.router.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("router did not drain")
	}
	if err := a.hooks.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("hook handlers still running")
	}
	if err := a.retriever.Close(); err != nil {
		log.Warn().Err(err).Msg("closing qdrant connection")
	}
	if err := a.pool.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
}
