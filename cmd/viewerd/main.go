// viewerd serves published city layer files, runs the server-side
// viewer session pool behind the classification API, and listens for
// layer republish events.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itogeo/hometownmap/internal/cache"
	"github.com/itogeo/hometownmap/internal/cache/lrustore"
	"github.com/itogeo/hometownmap/internal/cache/redisstore"
	"github.com/itogeo/hometownmap/internal/core/config"
	"github.com/itogeo/hometownmap/internal/core/httpclient"
	"github.com/itogeo/hometownmap/internal/core/model"
	obs "github.com/itogeo/hometownmap/internal/core/observability"
	"github.com/itogeo/hometownmap/internal/core/server"
	"github.com/itogeo/hometownmap/internal/invalidation/kafkaconsumer"
	"github.com/itogeo/hometownmap/internal/layers"
	"github.com/itogeo/hometownmap/internal/layerserver"
	mylog "github.com/itogeo/hometownmap/internal/logger"
	"github.com/itogeo/hometownmap/internal/metrics"
	"github.com/itogeo/hometownmap/internal/viewer"
)

var Version = "dev"

func main() {
	cfg := config.FromEnv()

	zl := mylog.Build(mylog.Config{Level: cfg.LogLevel, Component: "viewerd"}, nil)
	logger := mylog.NewSlog(&zl)
	logger.Info("starting viewerd",
		"addr", cfg.Addr, "version", Version,
		"data_dir", cfg.DataDir, "byte_cache", cfg.ByteCache.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.ExposeBuildInfo(Version)
	prov := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version}})

	store, err := buildByteCache(ctx, cfg)
	if err != nil {
		logger.Error("byte cache init failed", "err", err)
		os.Exit(1)
	}

	fetcher, err := buildFetcher(logger, cfg, store)
	if err != nil {
		logger.Error("fetcher init failed", "err", err)
		os.Exit(1)
	}

	refLayers := make(map[model.RefSlot]model.LayerID, len(cfg.ReferenceLayers))
	for slot, layer := range cfg.ReferenceLayers {
		refLayers[model.RefSlot(slot)] = model.LayerID(layer)
	}
	gated := make([]model.LayerID, 0, len(cfg.PresenceGated))
	for _, id := range cfg.PresenceGated {
		gated = append(gated, model.LayerID(id))
	}

	pool := viewer.NewPool(viewer.Options{
		Logger:          logger,
		Fetcher:         fetcher,
		ReferenceLayers: refLayers,
		PresenceGated:   gated,
		FetchTimeout:    cfg.FetchTimeout,
	}, cfg.SessionIdle)

	if cfg.Invalidation.Enabled && cfg.Invalidation.Driver == "kafka" {
		cons := kafkaconsumer.New(kafkaconsumer.FromApp(cfg.Invalidation), logger, store, pool)
		go func() {
			if err := cons.Start(ctx); err != nil {
				logger.Error("republish consumer stopped", "err", err)
			}
		}()
	}

	srv := layerserver.New(logger, cfg.DataDir, pool)
	router := srv.Routes()

	if cfg.MetricsAddr == "" {
		router.Handle("/metrics", prov.Handler())
	} else {
		go serveMetrics(ctx, logger, cfg.MetricsAddr, prov.Handler())
	}

	if err := server.Run(ctx, cfg, logger, router); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// buildByteCache wires the shared layer byte cache. "none" disables it
// so every fetch goes to origin.
func buildByteCache(ctx context.Context, cfg config.Config) (cache.Interface, error) {
	switch cfg.ByteCache.Driver {
	case "none":
		return nil, nil
	case "lru":
		return lrustore.New(cfg.ByteCache.MaxEntries), nil
	case "redis":
		return redisstore.New(ctx, cfg.ByteCache.RedisAddr, cfg.ByteCache.OpTimeout)
	default:
		return nil, errors.New("unknown byte cache driver: " + cfg.ByteCache.Driver)
	}
}

func buildFetcher(logger *slog.Logger, cfg config.Config, store cache.Interface) (layers.Fetcher, error) {
	origin, err := layers.NewHTTPFetcher(logger, httpclient.NewOutbound(), cfg.LayerServerURL)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return origin, nil
	}
	return layers.NewCachedFetcher(logger, origin, store, cfg.ByteCache.TTL), nil
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listen", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", "err", err)
	}
}
