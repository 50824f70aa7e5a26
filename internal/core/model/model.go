// Package model defines core domain types shared across the viewer.
package model

import (
	"github.com/paulmach/orb/geojson"
)

// TenantID identifies one city instance of the viewer. Layer ids are
// unique only within a tenant, so every fetch key is implicitly scoped
// by the active tenant.
type TenantID string

// LayerID identifies a vector layer within a tenant (e.g. "parcels",
// "fema_flood_zones").
type LayerID string

// RefSlot names a fixed reference-layer slot backing point
// classification. Slots load independently of user-toggled visibility.
type RefSlot string

const (
	SlotSubdivisions RefSlot = "subdivisions"
	SlotFloodZones   RefSlot = "flood_zones"
)

type LoadState int

const (
	StateAbsent LoadState = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "absent"
	}
}

// CacheEntry tracks one layer's load lifecycle. Data is non-nil iff
// State is StateLoaded; Err is non-empty iff State is StateFailed.
type CacheEntry struct {
	Layer LayerID
	State LoadState
	Data  *geojson.FeatureCollection
	Err   string
}

// LayerSet is the requested visible selection.
type LayerSet map[LayerID]struct{}

func NewLayerSet(ids ...LayerID) LayerSet {
	s := make(LayerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s LayerSet) Has(id LayerID) bool {
	_, ok := s[id]
	return ok
}
