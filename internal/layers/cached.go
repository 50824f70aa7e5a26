package layers

import (
	"context"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/itogeo/hometownmap/internal/cache"
	"github.com/itogeo/hometownmap/internal/cache/keys"
	"github.com/itogeo/hometownmap/internal/core/model"
	"github.com/itogeo/hometownmap/internal/core/observability"
)

// CachedFetcher consults the shared byte cache before going to origin.
// Keys carry the tenant id, so tenant isolation holds across sessions
// sharing one store. Cache failures degrade to an origin fetch rather
// than failing the layer.
type CachedFetcher struct {
	logger *slog.Logger
	origin ByteSource
	store  cache.Interface
	ttl    time.Duration
}

func NewCachedFetcher(logger *slog.Logger, origin ByteSource, store cache.Interface, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{logger: logger, origin: origin, store: store, ttl: ttl}
}

func (c *CachedFetcher) FetchLayer(ctx context.Context, tenant model.TenantID, layer model.LayerID) (*geojson.FeatureCollection, error) {
	key := keys.Layer(tenant, layer)

	start := time.Now()
	body, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("byte cache get failed, falling through to origin",
			"key", key, "err", err)
	}
	if ok && err == nil {
		observability.IncByteCacheHit()
		observability.ObserveLayerFetch("byte_cache", "ok", time.Since(start).Seconds())
		return decode(tenant, layer, body)
	}
	observability.IncByteCacheMiss()

	body, err = c.origin.FetchLayerBytes(ctx, tenant, layer)
	if err != nil {
		return nil, err
	}
	if serr := c.store.Set(ctx, key, body, c.ttl); serr != nil {
		c.logger.Warn("byte cache set failed", "key", key, "err", serr)
	}
	return decode(tenant, layer, body)
}
