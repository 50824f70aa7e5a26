// Package viewer owns the per-instance layer caches and tenant
// lifecycle of one mounted map viewer. Cache state is explicit and
// session-scoped; no two sessions share mutable state, though they may
// share the byte-cached fetcher underneath.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/itogeo/hometownmap/internal/classify"
	"github.com/itogeo/hometownmap/internal/core/model"
	"github.com/itogeo/hometownmap/internal/core/observability"
	"github.com/itogeo/hometownmap/internal/layers"
)

// ErrNoTenant is returned when layer operations run before SetTenant.
var ErrNoTenant = errors.New("viewer: no active tenant")

type Options struct {
	Logger  *slog.Logger
	Fetcher layers.Fetcher
	// ReferenceLayers maps classification slots to the layer id serving
	// each slot for every tenant.
	ReferenceLayers map[model.RefSlot]model.LayerID
	// PresenceGated layers are fetched exactly while visible and drop
	// to absent the instant they leave the visible set. Everything else
	// is retained on hide until the tenant changes.
	PresenceGated []model.LayerID
	FetchTimeout  time.Duration
}

// Session is the coordinating context for one viewer instance. All
// cache transitions are serialized through its mutex; fetches run in
// tagged goroutines and results from a superseded tenant are dropped
// on arrival.
type Session struct {
	logger  *slog.Logger
	fetcher layers.Fetcher
	refs    *ReferenceStore
	cls     *classify.Classifier
	timeout time.Duration
	gated   map[model.LayerID]bool

	mu      sync.Mutex
	tenant  model.TenantID
	gen     uint64
	entries map[model.LayerID]*model.CacheEntry
	visible model.LayerSet

	wg sync.WaitGroup
}

func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	gated := make(map[model.LayerID]bool, len(opts.PresenceGated))
	for _, id := range opts.PresenceGated {
		gated[id] = true
	}
	refs := NewReferenceStore(opts.Logger, opts.Fetcher, opts.ReferenceLayers, opts.FetchTimeout)
	return &Session{
		logger:  opts.Logger,
		fetcher: opts.Fetcher,
		refs:    refs,
		cls:     classify.New(refs),
		timeout: opts.FetchTimeout,
		gated:   gated,
		entries: map[model.LayerID]*model.CacheEntry{},
		visible: model.LayerSet{},
	}
}

// SetTenant activates a tenant. A tenant change discards every cache
// entry and bumps the fetch generation so in-flight results belonging
// to the old tenant are dropped instead of merged. Reference layers
// (re)load either way; same-tenant reloads are last-writer-wins per
// slot.
func (s *Session) SetTenant(ctx context.Context, tenant model.TenantID) {
	s.mu.Lock()
	if tenant != s.tenant {
		s.gen++
		s.tenant = tenant
		s.entries = map[model.LayerID]*model.CacheEntry{}
		s.visible = model.LayerSet{}
		s.logger.Info("tenant activated", "tenant", string(tenant))
	}
	s.mu.Unlock()

	s.refs.Load(ctx, tenant)
}

// SetVisibleLayers reconciles the requested visible set against the
// cache and fetches only the delta. Layers leaving the set are kept
// cached for cheap re-toggling, except presence-gated layers, whose
// entries are cleared immediately.
func (s *Session) SetVisibleLayers(ctx context.Context, ids model.LayerSet) error {
	s.mu.Lock()
	if s.tenant == "" {
		s.mu.Unlock()
		return ErrNoTenant
	}

	for id := range s.visible {
		if s.gated[id] && !ids.Has(id) {
			delete(s.entries, id)
		}
	}

	var toFetch []model.LayerID
	for id := range ids {
		if _, ok := s.entries[id]; ok {
			continue // loaded, loading, or failed: never refetched here
		}
		s.entries[id] = &model.CacheEntry{Layer: id, State: model.StateLoading}
		toFetch = append(toFetch, id)
	}

	s.visible = make(model.LayerSet, len(ids))
	for id := range ids {
		s.visible[id] = struct{}{}
	}

	gen := s.gen
	tenant := s.tenant
	s.wg.Add(len(toFetch))
	s.mu.Unlock()

	for _, id := range toFetch {
		go s.fetchOne(ctx, gen, tenant, id)
	}
	if len(toFetch) > 0 {
		s.logger.Debug("visible set reconciled",
			"tenant", string(tenant), "visible", len(ids), "fetching", len(toFetch))
	}
	return nil
}

func (s *Session) fetchOne(ctx context.Context, gen uint64, tenant model.TenantID, id model.LayerID) {
	defer s.wg.Done()

	// The fetch outlives the call that triggered it; keep context
	// values but detach cancellation, then bound it ourselves.
	fctx := context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, s.timeout)
		defer cancel()
	}

	fc, err := s.fetcher.FetchLayer(fctx, tenant, id)
	s.complete(gen, tenant, id, fc, err)
}

// complete merges one fetch result. Merges are key-wise: each result
// touches only its own entry, so concurrent completions commute and
// never clobber loaded siblings.
func (s *Session) complete(gen uint64, tenant model.TenantID, id model.LayerID, fc *geojson.FeatureCollection, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		observability.IncStaleDrop()
		s.logger.Debug("dropping stale layer result",
			"tenant", string(tenant), "layer", string(id))
		return
	}
	e, ok := s.entries[id]
	if !ok || e.State != model.StateLoading {
		// Entry was cleared while the fetch was in flight (the layer is
		// presence-gated and got hidden). Do not resurrect it.
		return
	}

	if err != nil {
		s.entries[id] = &model.CacheEntry{Layer: id, State: model.StateFailed, Err: err.Error()}
		s.logger.Warn("layer fetch failed",
			"tenant", string(tenant), "layer", string(id), "err", err)
		return
	}
	s.entries[id] = &model.CacheEntry{Layer: id, State: model.StateLoaded, Data: fc}
}

// Tenant returns the active tenant id.
func (s *Session) Tenant() model.TenantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant
}

// Entry returns a copy of the cache entry for id. Unknown ids report
// an absent entry.
func (s *Session) Entry(id model.LayerID) model.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return *e
	}
	return model.CacheEntry{Layer: id, State: model.StateAbsent}
}

// Entries returns copies of all cache entries, ordered by layer id.
func (s *Session) Entries() []model.CacheEntry {
	s.mu.Lock()
	out := make([]model.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// ReferenceLayer exposes a reference slot's collection to the
// rendering surface.
func (s *Session) ReferenceLayer(slot model.RefSlot) *geojson.FeatureCollection {
	return s.refs.Get(slot)
}

// Ready reports whether all reference slots have settled.
func (s *Session) Ready() bool {
	return s.refs.Ready()
}

// ClassifySubdivision reports the subdivision name containing the
// coordinate, if any.
func (s *Session) ClassifySubdivision(lng, lat float64) (string, bool) {
	return s.cls.Subdivision(lng, lat)
}

// ClassifyFloodZone reports the flood-hazard designation at the
// coordinate, or nil outside any known zone.
func (s *Session) ClassifyFloodZone(lng, lat float64) *classify.FloodZone {
	return s.cls.FloodZone(lng, lat)
}

// Wait blocks until every in-flight fetch (visible layers and
// reference slots) settles. Intended for tests and draining on
// shutdown.
func (s *Session) Wait() {
	s.wg.Wait()
	s.refs.Wait()
}
