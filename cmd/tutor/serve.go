package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/api"
	"github.com/nidhogg/nuka-tutor/internal/config"
	"github.com/nidhogg/nuka-tutor/internal/embedding"
	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/gateway"
	"github.com/nidhogg/nuka-tutor/internal/graph"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/notify"
	"github.com/nidhogg/nuka-tutor/internal/oracle"
	"github.com/nidhogg/nuka-tutor/internal/orchestrator"
	"github.com/nidhogg/nuka-tutor/internal/provider"
	"github.com/nidhogg/nuka-tutor/internal/recall"
	msgrouter "github.com/nidhogg/nuka-tutor/internal/router"
	"github.com/nidhogg/nuka-tutor/internal/sessionstate"
	pgstore "github.com/nidhogg/nuka-tutor/internal/store"
	"github.com/nidhogg/nuka-tutor/internal/tutor"
	"github.com/nidhogg/nuka-tutor/internal/vectorstore"
	"github.com/nidhogg/nuka-tutor/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, chat gateways and follow-up sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Server.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg, logger)
	},
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("Starting tutor...")
	var cleanup closers
	defer cleanup.run()

	// Knowledge store: PostgreSQL when configured, memory otherwise.
	var store knowledge.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		cleanup.add(ps.Close)
		if err := ps.Migrate(ctx, cfg.Server.MigrationsDir); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		store = ps
	} else {
		logger.Warn("PostgreSQL not configured, using in-memory store")
		store = knowledge.NewMemoryStore()
	}

	if cfg.Database.Neo4j.URI != "" {
		gs, err := graph.NewStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, keeping edges in the primary store", zap.Error(err))
		} else {
			cleanup.add(func() { gs.Close(context.Background()) })
			if err := gs.EnsureSchema(ctx); err != nil {
				logger.Warn("neo4j schema setup failed", zap.Error(err))
			}
			store = knowledge.WithEdgeStore(store, gs)
		}
	}

	// Session state snapshots and learner notifications share Redis.
	var snap sessionstate.Snapshotter
	var bus *notify.Bus
	if cfg.Database.Redis.URL != "" {
		rs, err := sessionstate.NewRedisSnapshotter(cfg.Database.Redis.URL, cfg.Database.Redis.SnapshotTTL.Std(), logger)
		if err != nil {
			logger.Warn("Redis unavailable, session state stays in memory", zap.Error(err))
		} else {
			cleanup.add(func() { rs.Close() })
			snap = rs
		}
		if b, err := notify.NewBus(cfg.Database.Redis.URL, logger); err != nil {
			logger.Warn("Redis unavailable, notifications disabled", zap.Error(err))
		} else {
			cleanup.add(func() { b.Close() })
			bus = b
		}
	}

	rec, err := newRecall(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	if closer, ok := rec.index.(interface{ Close() error }); ok {
		cleanup.add(func() { closer.Close() })
	}

	router, err := newProviderRouter(cfg, logger)
	if err != nil {
		return err
	}
	orc := oracle.NewRouterOracle(router, cfg.Oracle.Model, cfg.Oracle.MaxTokens, logger)

	builder := learnctx.NewBuilder(cfg.Context, rec.recall, logger)
	eng := engine.New(store, orc, builder, cfg.Oracle.Engine(), logger)
	state := sessionstate.NewManager(snap, logger)
	svc := tutor.New(eng,
		intent.NewExtractor(orc, cfg.Oracle.ExtractTimeout.Std(), logger),
		orchestrator.New(state, orc, cfg.Oracle.ExtractTimeout.Std(), logger),
		state, rec.recall, cfg.Tutor.Service(), logger)
	cleanup.add(svc.Close)

	// Gateway and chat router. The handler is set before adapters register.
	gw := gateway.NewGateway(logger)
	cleanup.add(func() { gw.Close() })
	chat := msgrouter.New(svc, store, gw, logger)
	gw.SetHandler(chat.Handle)

	restAdapter := gateway.NewRESTAdapter(logger)
	gw.Register(restAdapter)
	if cfg.Gateway.Slack.Enabled {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	notifiers := notify.Fanout{chat}
	opts := api.Options{Gateway: gw, RESTGW: restAdapter}
	if bus != nil {
		notifiers = append(notifiers, bus)
		opts.Events = bus
	}
	sweeper := workflow.NewSweeper(eng.Workflows(), notifiers, cfg.Followups.SweepInterval.Std(), logger)
	opts.Sweeper = sweeper

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sweeper.Run(runCtx)

	handler := api.NewHandler(svc, store, opts, logger)
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Tutor listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("Shutting down tutor...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

type recallStack struct {
	recall *recall.Recall
	index  vectorstore.Index
}

// newRecall builds the embedding-backed application recall and indexes what
// the store already holds.
func newRecall(ctx context.Context, cfg *config.Config, store knowledge.Store, logger *zap.Logger) (*recallStack, error) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	var index vectorstore.Index
	if cfg.Database.Qdrant.Host != "" {
		q, err := vectorstore.NewQdrant(cfg.Database.Qdrant, logger)
		if err != nil {
			logger.Warn("Qdrant unavailable, using in-memory index", zap.Error(err))
		} else {
			index = q
		}
	}
	if index == nil {
		index = vectorstore.NewMemoryIndex()
	}
	rec := recall.New(embedder, index, logger)

	reindexCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	n, err := rec.Reindex(reindexCtx, store)
	if err != nil {
		logger.Warn("recall reindex failed", zap.Error(err))
	} else {
		logger.Info("recall index ready", zap.Int("applications", n))
	}
	return &recallStack{recall: rec, index: index}, nil
}

func newProviderRouter(cfg *config.Config, logger *zap.Logger) (*provider.Router, error) {
	router := provider.NewRouter(logger)
	for i, pc := range cfg.Providers {
		p, err := provider.New(pc.Provider(), logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		router.Register(p)
		if i == 0 {
			router.SetDefault(pc.ID)
		}
	}
	for purpose, id := range cfg.Oracle.Bindings {
		router.Bind(purpose, id)
	}
	if len(cfg.Oracle.Fallbacks) > 0 {
		router.SetFallbacks(cfg.Oracle.Fallbacks)
	}
	if len(cfg.Providers) == 0 {
		logger.Warn("no LLM providers configured, turns will use fallback replies")
	}
	return router, nil
}
