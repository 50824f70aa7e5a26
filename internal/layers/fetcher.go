// Package layers fetches per-tenant layer FeatureCollections from the
// file-serving collaborator over HTTP, optionally through a shared
// byte cache.
package layers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/itogeo/hometownmap/internal/core/model"
	"github.com/itogeo/hometownmap/internal/core/observability"
)

// Fetcher is the outbound boundary of the viewer core: one logical
// operation, fetch a layer's FeatureCollection by tenant and layer id.
// Any mechanism satisfying this contract is substitutable.
type Fetcher interface {
	FetchLayer(ctx context.Context, tenant model.TenantID, layer model.LayerID) (*geojson.FeatureCollection, error)
}

// ByteSource fetches the raw layer body. The byte cache layers on top
// of this rather than on Fetcher so cached bodies stay verbatim.
type ByteSource interface {
	FetchLayerBytes(ctx context.Context, tenant model.TenantID, layer model.LayerID) ([]byte, error)
}

type HTTPFetcher struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	startNow func() time.Time // for tests
}

func NewHTTPFetcher(logger *slog.Logger, client *http.Client, base string) (*HTTPFetcher, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse layer server url: %w", err)
	}
	return &HTTPFetcher{
		logger:   logger,
		client:   client,
		baseURL:  u,
		startNow: time.Now,
	}, nil
}

func (f *HTTPFetcher) layerURL(tenant model.TenantID, layer model.LayerID) string {
	return f.baseURL.String() + "/api/cities/" + url.PathEscape(string(tenant)) +
		"/layers/" + url.PathEscape(string(layer))
}

func (f *HTTPFetcher) FetchLayerBytes(ctx context.Context, tenant model.TenantID, layer model.LayerID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.layerURL(tenant, layer), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := f.startNow()
	resp, err := f.client.Do(req)
	dur := time.Since(start)
	if err != nil {
		observability.ObserveLayerFetch("origin", "error", dur.Seconds())
		return nil, fmt.Errorf("fetch layer %s/%s: %w", tenant, layer, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.ObserveLayerFetch("origin", "error", dur.Seconds())
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("layer %s/%s: upstream status %d: %s",
			tenant, layer, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ObserveLayerFetch("origin", "error", dur.Seconds())
		return nil, fmt.Errorf("layer %s/%s: read body: %w", tenant, layer, err)
	}
	observability.ObserveLayerFetch("origin", "ok", dur.Seconds())

	f.logger.Debug("layer fetched",
		"tenant", string(tenant), "layer", string(layer),
		"bytes", len(body), "dur", dur.String())
	return body, nil
}

func (f *HTTPFetcher) FetchLayer(ctx context.Context, tenant model.TenantID, layer model.LayerID) (*geojson.FeatureCollection, error) {
	body, err := f.FetchLayerBytes(ctx, tenant, layer)
	if err != nil {
		return nil, err
	}
	return decode(tenant, layer, body)
}

func decode(tenant model.TenantID, layer model.LayerID, body []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("layer %s/%s: decode FeatureCollection: %w", tenant, layer, err)
	}
	return fc, nil
}
