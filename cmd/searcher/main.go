package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting retrieval service", "port", cfg.Server.Port, "storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Metrics.Port))
		if err != nil {
			slog.Error("failed to listen for metrics", "port", cfg.Metrics.Port, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := m.Serve(ctx, ln); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	rt, err := searcher.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open indexes", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	var redisClient *pkgredis.Client
	var queryCache *cache.QueryCache
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			queryCache.SetComputeTimeout(cfg.Search.QueryTimeout)
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator(cfg.Analytics.TopN)
	var publisher analytics.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			slog.Error("invalid kafka configuration", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
	}
	collector := analytics.NewCollector(publisher, aggregator, cfg.Kafka)
	collector.Start(ctx)

	var snapshots *analytics.SnapshotStore
	if cfg.Analytics.SnapshotInterval > 0 {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
		} else {
			defer pg.Close()
			store := analytics.NewSnapshotStore(pg)
			if err := store.Init(ctx); err != nil {
				slog.Warn("analytics snapshot table unavailable, snapshots disabled", "error", err)
			} else {
				snapshots = store
				snapshots.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval)
			}
		}
	}

	checker := health.NewChecker()
	checker.Register("indexes", health.FromError(func(context.Context) error { return rt.Healthy() }, true))
	checker.Register("docmeta", func(context.Context) health.ComponentHealth {
		if rt.Core.DocCount() == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no documents"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents", rt.Core.DocCount())}
	})
	if redisClient != nil {
		checker.Register("redis", health.FromError(redisClient.Ping, false))
	}

	h := handler.New(rt.Core, handler.Options{
		Search:    cfg.Search,
		Cache:     queryCache,
		Collector: collector,
		Metrics:   m,
		Trace:     cfg.Tracing.Enabled,
	})
	mux := http.NewServeMux()
	h.Register(mux)
	var snapshotSource analytics.SnapshotSource
	if snapshots != nil {
		snapshotSource = snapshots
	}
	mux.HandleFunc("GET /analytics", analytics.NewHandler(aggregator, snapshotSource).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if !cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", m.Handler())
	}

	routes := append(handler.Routes(), "/analytics", "/health/live", "/health/ready")
	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.Server.ClientRate > 0 {
		chain = middleware.RateLimit(middleware.NewClientLimiter(cfg.Server.ClientRate, cfg.Server.ClientBurst))(chain)
	}
	chain = middleware.Metrics(m, routes...)(chain)
	chain = middleware.CORS(cfg.Server.AllowOrigins)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("retrieval service listening", "addr", server.Addr, "documents", rt.Core.DocCount())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	collector.Close()
	slog.Info("retrieval service stopped")
}
