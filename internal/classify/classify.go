// Package classify answers "which polygon contains this point, and
// what are its attributes" over the reference layers.
//
// Both classifiers scan their layer's features in stored order and
// return on the first containing geometry; the scan is linear on
// purpose. Reference layers are small, and a spatial index would
// change the first-match tie-break that downstream display relies on.
package classify

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/itogeo/hometownmap/internal/core/model"
	"github.com/itogeo/hometownmap/internal/core/observability"
	"github.com/itogeo/hometownmap/internal/geom"
)

// RefSource provides materialized reference layers. A nil collection
// means the slot has not loaded (or failed); classification then
// degrades to no-match, never an error.
type RefSource interface {
	Get(slot model.RefSlot) *geojson.FeatureCollection
}

type Classifier struct {
	refs RefSource
}

func New(refs RefSource) *Classifier {
	return &Classifier{refs: refs}
}

// Subdivision datasets carry the name under either of these casings
// depending on which county export they came from.
var subdivisionNameKeys = [...]string{"NAME", "Name"}

// Subdivision returns the name of the first subdivision polygon
// containing the point, in stored feature order. The bool reports
// whether any polygon matched; a match with no name attribute yields
// an empty name.
func (c *Classifier) Subdivision(lng, lat float64) (string, bool) {
	f := c.firstMatch(model.SlotSubdivisions, lng, lat)
	observability.ObserveClassification("subdivision", f != nil)
	if f == nil {
		return "", false
	}
	for _, k := range subdivisionNameKeys {
		if v := f.Properties.MustString(k, ""); v != "" {
			return v, true
		}
	}
	return "", true
}

// FloodZone describes the flood-hazard designation at a point.
type FloodZone struct {
	Zone       string `json:"zone"`
	Subtype    string `json:"subtype"`
	IsFloodway bool   `json:"isFloodway"`
	IsSFHA     bool   `json:"isSFHA"`
}

// FloodZone classifies the point against the flood-zones reference
// layer. The derivation rules are exact string contracts from the FEMA
// NFHL attribute schema: IsFloodway compares the whitespace-trimmed
// ZONE_SUBTY against "FLOODWAY", IsSFHA is exact equality of SFHA_TF
// with "T", and a missing FLD_ZONE reads as the literal "Unknown".
// Returns nil when the layer is unloaded or no feature contains the
// point.
func (c *Classifier) FloodZone(lng, lat float64) *FloodZone {
	f := c.firstMatch(model.SlotFloodZones, lng, lat)
	observability.ObserveClassification("flood_zone", f != nil)
	if f == nil {
		return nil
	}

	zone := f.Properties.MustString("FLD_ZONE", "")
	if zone == "" {
		zone = "Unknown"
	}
	subtype := f.Properties.MustString("ZONE_SUBTY", "")
	return &FloodZone{
		Zone:       zone,
		Subtype:    subtype,
		IsFloodway: strings.TrimSpace(subtype) == "FLOODWAY",
		IsSFHA:     f.Properties.MustString("SFHA_TF", "") == "T",
	}
}

func (c *Classifier) firstMatch(slot model.RefSlot, lng, lat float64) *geojson.Feature {
	fc := c.refs.Get(slot)
	if fc == nil {
		return nil
	}
	pt := orb.Point{lng, lat}
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if geom.PointInPolygon(pt, f.Geometry) {
			return f
		}
	}
	return nil
}
