package viewer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/itogeo/hometownmap/internal/core/model"
	"github.com/itogeo/hometownmap/internal/core/observability"
	"github.com/itogeo/hometownmap/internal/layers"
)

// ReferenceStore holds the fixed catalog of polygon layers backing
// point classification. Slots load unconditionally whenever a tenant
// becomes active, independent of the user-toggled visible set, and do
// not block one another.
type ReferenceStore struct {
	logger  *slog.Logger
	fetcher layers.Fetcher
	catalog map[model.RefSlot]model.LayerID
	timeout time.Duration

	mu     sync.Mutex
	tenant model.TenantID
	gen    uint64
	data   map[model.RefSlot]*geojson.FeatureCollection
	states map[model.RefSlot]model.LoadState

	wg sync.WaitGroup
}

func NewReferenceStore(logger *slog.Logger, fetcher layers.Fetcher, catalog map[model.RefSlot]model.LayerID, timeout time.Duration) *ReferenceStore {
	cp := make(map[model.RefSlot]model.LayerID, len(catalog))
	for slot, layer := range catalog {
		cp[slot] = layer
	}
	return &ReferenceStore{
		logger:  logger,
		fetcher: fetcher,
		catalog: cp,
		timeout: timeout,
		data:    map[model.RefSlot]*geojson.FeatureCollection{},
		states:  map[model.RefSlot]model.LoadState{},
	}
}

// Load makes tenant the active tenant and issues one fetch per slot.
// Changing tenant discards all slot data first; results from fetches
// issued under a previous tenant are dropped when they land, however
// late. Re-loading the same tenant keeps existing data and applies
// last-writer-wins per slot.
func (r *ReferenceStore) Load(ctx context.Context, tenant model.TenantID) {
	r.mu.Lock()
	if tenant != r.tenant {
		r.gen++
		r.tenant = tenant
		r.data = map[model.RefSlot]*geojson.FeatureCollection{}
		r.states = map[model.RefSlot]model.LoadState{}
	}
	gen := r.gen
	for slot := range r.catalog {
		if r.states[slot] != model.StateLoaded {
			r.states[slot] = model.StateLoading
		}
	}
	r.mu.Unlock()

	for slot, layer := range r.catalog {
		r.wg.Add(1)
		go r.loadSlot(ctx, gen, tenant, slot, layer)
	}
}

func (r *ReferenceStore) loadSlot(ctx context.Context, gen uint64, tenant model.TenantID, slot model.RefSlot, layer model.LayerID) {
	defer r.wg.Done()

	// Detach from the triggering call's cancellation; the slot load
	// belongs to the session, not the request.
	fctx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, r.timeout)
		defer cancel()
	}

	fc, err := r.fetcher.FetchLayer(fctx, tenant, layer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		observability.IncStaleDrop()
		r.logger.Debug("dropping stale reference layer result",
			"tenant", string(tenant), "slot", string(slot))
		return
	}
	if err != nil {
		r.states[slot] = model.StateFailed
		r.logger.Warn("reference layer load failed",
			"tenant", string(tenant), "slot", string(slot),
			"layer", string(layer), "err", err)
		return
	}
	r.data[slot] = fc
	r.states[slot] = model.StateLoaded
	r.logger.Debug("reference layer loaded",
		"tenant", string(tenant), "slot", string(slot),
		"features", len(fc.Features))
}

// Get returns the materialized collection for a slot, or nil while the
// slot is unloaded or failed.
func (r *ReferenceStore) Get(slot model.RefSlot) *geojson.FeatureCollection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[slot]
}

// State reports the slot's load state.
func (r *ReferenceStore) State(slot model.RefSlot) model.LoadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[slot]
}

// Ready reports whether every cataloged slot has settled (loaded or
// failed); classification degrades to no-match on failed slots.
func (r *ReferenceStore) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot := range r.catalog {
		switch r.states[slot] {
		case model.StateLoaded, model.StateFailed:
		default:
			return false
		}
	}
	return true
}

// Wait blocks until all in-flight slot loads settle.
func (r *ReferenceStore) Wait() {
	r.wg.Wait()
}
