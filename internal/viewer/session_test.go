package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/itogeo/hometownmap/internal/core/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher is an in-memory layer source that counts calls and can
// hold individual fetches open to exercise in-flight races.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	data  map[string]*geojson.FeatureCollection
	errs  map[string]error
	block map[string]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: map[string]int{},
		data:  map[string]*geojson.FeatureCollection{},
		errs:  map[string]error{},
		block: map[string]chan struct{}{},
	}
}

func fkey(tenant model.TenantID, layer model.LayerID) string {
	return fmt.Sprintf("%s/%s", tenant, layer)
}

func (f *fakeFetcher) serve(tenant model.TenantID, layer model.LayerID, fc *geojson.FeatureCollection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[fkey(tenant, layer)] = fc
}

func (f *fakeFetcher) fail(tenant model.TenantID, layer model.LayerID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[fkey(tenant, layer)] = err
}

// holdOpen makes the next fetch of the key park until the returned
// channel is closed.
func (f *fakeFetcher) holdOpen(tenant model.TenantID, layer model.LayerID) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[fkey(tenant, layer)] = ch
	return ch
}

func (f *fakeFetcher) callCount(tenant model.TenantID, layer model.LayerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fkey(tenant, layer)]
}

func (f *fakeFetcher) FetchLayer(_ context.Context, tenant model.TenantID, layer model.LayerID) (*geojson.FeatureCollection, error) {
	k := fkey(tenant, layer)
	f.mu.Lock()
	f.calls[k]++
	gate := f.block[k]
	err := f.errs[k]
	fc := f.data[k]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	return fc, nil
}

func newTestSession(f *fakeFetcher, gated ...model.LayerID) *Session {
	return NewSession(Options{
		Logger:  discardLogger(),
		Fetcher: f,
		ReferenceLayers: map[model.RefSlot]model.LayerID{
			model.SlotSubdivisions: "subdivisions",
			model.SlotFloodZones:   "floodplains",
		},
		PresenceGated: gated,
		FetchTimeout:  5 * time.Second,
	})
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestSession(f)
	s.SetTenant(ctx, "three-forks")

	vis := model.NewLayerSet("zoning", "trails")
	for i := 0; i < 3; i++ {
		if err := s.SetVisibleLayers(ctx, vis); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
	}
	s.Wait()

	if n := f.callCount("three-forks", "zoning"); n != 1 {
		t.Fatalf("zoning fetched %d times, want 1", n)
	}
	if n := f.callCount("three-forks", "trails"); n != 1 {
		t.Fatalf("trails fetched %d times, want 1", n)
	}
	if e := s.Entry("zoning"); e.State != model.StateLoaded || e.Data == nil {
		t.Fatalf("zoning entry = %+v", e)
	}
}

func TestReconcile_RequiresTenant(t *testing.T) {
	s := newTestSession(newFakeFetcher())
	err := s.SetVisibleLayers(context.Background(), model.NewLayerSet("zoning"))
	if !errors.Is(err, ErrNoTenant) {
		t.Fatalf("err = %v, want ErrNoTenant", err)
	}
}

func TestRetainOnHide_NoRefetch(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestSession(f)
	s.SetTenant(ctx, "three-forks")

	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("zoning"))
	s.Wait()
	_ = s.SetVisibleLayers(ctx, model.NewLayerSet())
	if e := s.Entry("zoning"); e.State != model.StateLoaded {
		t.Fatalf("hidden layer should stay cached, state = %v", e.State)
	}
	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("zoning"))
	s.Wait()

	if n := f.callCount("three-forks", "zoning"); n != 1 {
		t.Fatalf("re-toggling a retained layer fetched %d times, want 1", n)
	}
}

func TestPresenceGated_ClearedOnHideAndRefetched(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestSession(f, "parcels")
	s.SetTenant(ctx, "three-forks")

	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("parcels"))
	s.Wait()
	if e := s.Entry("parcels"); e.State != model.StateLoaded {
		t.Fatalf("parcels state = %v", e.State)
	}

	_ = s.SetVisibleLayers(ctx, model.NewLayerSet())
	if e := s.Entry("parcels"); e.State != model.StateAbsent || e.Data != nil {
		t.Fatalf("gated layer should drop to absent on hide, got %+v", e)
	}

	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("parcels"))
	s.Wait()
	if n := f.callCount("three-forks", "parcels"); n != 2 {
		t.Fatalf("gated layer fetched %d times, want 2", n)
	}
}

func TestPresenceGated_InFlightResultNotResurrected(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestSession(f, "parcels")
	s.SetTenant(ctx, "three-forks")
	s.Wait() // let reference loads settle so Wait below only tracks parcels

	gate := f.holdOpen("three-forks", "parcels")
	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("parcels"))
	_ = s.SetVisibleLayers(ctx, model.NewLayerSet()) // hide while loading
	close(gate)
	s.Wait()

	if e := s.Entry("parcels"); e.State != model.StateAbsent {
		t.Fatalf("late result for a hidden gated layer must not land, got %v", e.State)
	}
}

func TestPartialFailure_DoesNotAbortSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.fail("three-forks", "permits", errors.New("upstream status 404"))
	s := newTestSession(f)
	s.SetTenant(ctx, "three-forks")

	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("zoning", "permits"))
	s.Wait()

	if e := s.Entry("zoning"); e.State != model.StateLoaded {
		t.Fatalf("sibling of a failed layer should load, state = %v", e.State)
	}
	e := s.Entry("permits")
	if e.State != model.StateFailed || e.Err == "" || e.Data != nil {
		t.Fatalf("failed entry = %+v", e)
	}
}

func TestTenantSwitch_ClearsEntriesAndDropsStaleResults(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestSession(f)

	s.SetTenant(ctx, "three-forks")
	gate := f.holdOpen("three-forks", "zoning")
	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("zoning"))

	s.SetTenant(ctx, "manhattan")
	close(gate) // tenant A's fetch resolves after the switch
	s.Wait()

	if e := s.Entry("zoning"); e.State != model.StateAbsent {
		t.Fatalf("stale tenant result leaked into new tenant: %+v", e)
	}
	if s.Tenant() != "manhattan" {
		t.Fatalf("tenant = %q", s.Tenant())
	}
}

func TestTenantRoundTrip_DoesNotResurrectOldEntries(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestSession(f)

	s.SetTenant(ctx, "three-forks")
	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("zoning"))
	s.Wait()

	s.SetTenant(ctx, "manhattan")
	s.SetTenant(ctx, "three-forks")

	if e := s.Entry("zoning"); e.State != model.StateAbsent {
		t.Fatalf("A->B->A must start from an empty cache, got %v", e.State)
	}

	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("zoning"))
	s.Wait()
	if n := f.callCount("three-forks", "zoning"); n != 2 {
		t.Fatalf("zoning fetched %d times across the round trip, want 2", n)
	}
}

func TestConcurrentMerges_AreAdditive(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestSession(f)
	s.SetTenant(ctx, "three-forks")
	s.Wait()

	gateA := f.holdOpen("three-forks", "zoning")
	gateB := f.holdOpen("three-forks", "trails")
	_ = s.SetVisibleLayers(ctx, model.NewLayerSet("zoning", "trails"))

	// Release in reverse order; completion order must not matter.
	close(gateB)
	close(gateA)
	s.Wait()

	for _, id := range []model.LayerID{"zoning", "trails"} {
		if e := s.Entry(id); e.State != model.StateLoaded {
			t.Fatalf("%s state = %v, want loaded", id, e.State)
		}
	}
}

func subdivisionsFC() *geojson.FeatureCollection {
	mk := func(name string, minX, minY, maxX, maxY float64) *geojson.Feature {
		f := geojson.NewFeature(orb.Polygon{orb.Ring{
			{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
		}})
		f.Properties = geojson.Properties{"NAME": name}
		return f
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(mk("Foo Estates", 0, 0, 10, 10))
	fc.Append(mk("Bar Heights", 20, 0, 30, 10))
	return fc
}

func TestSession_ClassifyEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.serve("three-forks", "subdivisions", subdivisionsFC())

	floodFC := geojson.NewFeatureCollection()
	flood := geojson.NewFeature(orb.Polygon{orb.Ring{
		{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0},
	}})
	flood.Properties = geojson.Properties{
		"FLD_ZONE":   "AE",
		"ZONE_SUBTY": " FLOODWAY ",
		"SFHA_TF":    "T",
	}
	floodFC.Append(flood)
	f.serve("three-forks", "floodplains", floodFC)

	s := newTestSession(f)
	s.SetTenant(ctx, "three-forks")
	s.Wait()

	if !s.Ready() {
		t.Fatal("reference slots should have settled")
	}

	name, ok := s.ClassifySubdivision(5, 5)
	if !ok || name != "Foo Estates" {
		t.Fatalf("ClassifySubdivision(5,5) = %q, %v", name, ok)
	}
	if _, ok := s.ClassifySubdivision(50, 50); ok {
		t.Fatal("point outside both subdivisions should not match")
	}

	fz := s.ClassifyFloodZone(5, 5)
	if fz == nil {
		t.Fatal("want flood zone match")
	}
	if fz.Zone != "AE" || !fz.IsFloodway || !fz.IsSFHA {
		t.Fatalf("flood zone = %+v", fz)
	}
	if s.ClassifyFloodZone(50, 50) != nil {
		t.Fatal("point outside the zone should return nil")
	}
}

func TestSession_ClassifyBeforeLoadDegradesToNull(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	gate := f.holdOpen("three-forks", "subdivisions")
	f.serve("three-forks", "subdivisions", subdivisionsFC())

	s := newTestSession(f)
	s.SetTenant(ctx, "three-forks")

	if _, ok := s.ClassifySubdivision(5, 5); ok {
		t.Fatal("classification before the layer loads must report no match")
	}
	close(gate)
	s.Wait()

	if _, ok := s.ClassifySubdivision(5, 5); !ok {
		t.Fatal("classification after load should match")
	}
}
