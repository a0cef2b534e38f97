package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dorvan/ragent/db"
	"github.com/dorvan/ragent/internal/agent"
	"github.com/dorvan/ragent/internal/knowledge"
	"github.com/dorvan/ragent/internal/llm"
	"github.com/dorvan/ragent/internal/retrieval"
)

// backend bundles everything a subcommand needs, with a cleanup for
// the connection pool.
type backend struct {
	store   knowledge.Store
	model   llm.Client
	cleanup func()
}

// newBackend initializes Genkit with the Google AI plugin and picks
// the store: PostgreSQL with pgvector when a database URL is
// configured, in-memory otherwise.
func newBackend(ctx context.Context) (*backend, error) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	model, err := llm.NewGenkitClient(g, qualifyModel(cfg.ModelName), logger)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	b := &backend{model: model, cleanup: func() {}}

	if cfg.DatabaseURL == "" {
		logger.Info("no database configured, using in-memory knowledge store")
		b.store = knowledge.NewMemoryStore()
		return b, nil
	}

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	embedder := knowledge.NewGenkitEmbedder(googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel))
	store, err := knowledge.NewPostgresStore(pool, embedder, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	b.store = store
	b.cleanup = pool.Close
	return b, nil
}

// newController builds the agent over an initialized backend.
func newController(b *backend) (*agent.Controller, error) {
	return agent.New(agent.Config{
		Model:         b.model,
		ModelName:     qualifyModel(cfg.ModelName),
		Store:         b.store,
		Strictness:    retrieval.Strictness(cfg.Retrieval.Strictness),
		MaxResults:    cfg.Retrieval.MaxResults,
		SystemPrompt:  cfg.SystemPrompt,
		MaxIterations: cfg.MaxIterations,
		Prices:        cfg.Prices(),
		Logger:        logger,
	})
}

// qualifyModel prefixes bare model names with the googleai provider.
func qualifyModel(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "googleai/" + name
}
