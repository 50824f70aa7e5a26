package classify

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/itogeo/hometownmap/internal/core/model"
)

type refMap map[model.RefSlot]*geojson.FeatureCollection

func (m refMap) Get(slot model.RefSlot) *geojson.FeatureCollection { return m[slot] }

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func feat(g orb.Geometry, props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties = props
	return f
}

func subdivisionsFC() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(feat(square(0, 0, 10, 10), geojson.Properties{"NAME": "Foo Estates"}))
	fc.Append(feat(square(20, 0, 30, 10), geojson.Properties{"Name": "Bar Heights"}))
	return fc
}

func TestSubdivision_FirstMatchByName(t *testing.T) {
	c := New(refMap{model.SlotSubdivisions: subdivisionsFC()})

	name, ok := c.Subdivision(5, 5)
	if !ok || name != "Foo Estates" {
		t.Fatalf("Subdivision(5,5) = %q, %v", name, ok)
	}

	// Second feature uses the alternate key casing.
	name, ok = c.Subdivision(25, 5)
	if !ok || name != "Bar Heights" {
		t.Fatalf("Subdivision(25,5) = %q, %v", name, ok)
	}

	if name, ok = c.Subdivision(15, 5); ok || name != "" {
		t.Fatalf("point outside both should not match, got %q, %v", name, ok)
	}
}

func TestSubdivision_StoredOrderWinsOnOverlap(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(feat(square(0, 0, 10, 10), geojson.Properties{"NAME": "First"}))
	fc.Append(feat(square(0, 0, 10, 10), geojson.Properties{"NAME": "Second"}))
	c := New(refMap{model.SlotSubdivisions: fc})

	name, ok := c.Subdivision(5, 5)
	if !ok || name != "First" {
		t.Fatalf("overlap should resolve to the earlier feature, got %q", name)
	}
}

func TestSubdivision_UnloadedLayerDegradesToNoMatch(t *testing.T) {
	c := New(refMap{})
	if _, ok := c.Subdivision(5, 5); ok {
		t.Fatal("missing reference layer must classify as no-match")
	}
}

func TestSubdivision_SkipsNilGeometry(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(feat(nil, geojson.Properties{"NAME": "Ghost"}))
	fc.Append(feat(square(0, 0, 10, 10), geojson.Properties{"NAME": "Real"}))
	c := New(refMap{model.SlotSubdivisions: fc})

	name, ok := c.Subdivision(5, 5)
	if !ok || name != "Real" {
		t.Fatalf("nil-geometry feature should be skipped, got %q, %v", name, ok)
	}
}

func TestFloodZone_DerivationContracts(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(feat(square(0, 0, 10, 10), geojson.Properties{
		"FLD_ZONE":   "AE",
		"ZONE_SUBTY": " FLOODWAY ",
		"SFHA_TF":    "T",
	}))
	c := New(refMap{model.SlotFloodZones: fc})

	got := c.FloodZone(5, 5)
	if got == nil {
		t.Fatal("point inside the zone should classify")
	}
	if got.Zone != "AE" {
		t.Fatalf("Zone = %q", got.Zone)
	}
	if !got.IsFloodway {
		t.Fatal("ZONE_SUBTY with surrounding whitespace should still read as floodway")
	}
	if !got.IsSFHA {
		t.Fatal("SFHA_TF == \"T\" should read as SFHA")
	}
}

func TestFloodZone_DefaultsAndNegatives(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(feat(square(0, 0, 10, 10), geojson.Properties{
		"ZONE_SUBTY": "0.2 PCT ANNUAL CHANCE FLOOD HAZARD",
		"SFHA_TF":    "F",
	}))
	c := New(refMap{model.SlotFloodZones: fc})

	got := c.FloodZone(5, 5)
	if got == nil {
		t.Fatal("want a match")
	}
	if got.Zone != "Unknown" {
		t.Fatalf("missing FLD_ZONE should default to \"Unknown\", got %q", got.Zone)
	}
	if got.IsFloodway {
		t.Fatal("non-floodway subtype must not read as floodway")
	}
	if got.IsSFHA {
		t.Fatal("SFHA_TF \"F\" must not read as SFHA")
	}

	if c.FloodZone(50, 50) != nil {
		t.Fatal("point outside all zones should return nil")
	}
}

func TestFloodZone_SFHAIsExactEquality(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(feat(square(0, 0, 10, 10), geojson.Properties{
		"FLD_ZONE": "A",
		"SFHA_TF":  " T ", // padded value must NOT count: exact match only
	}))
	c := New(refMap{model.SlotFloodZones: fc})

	got := c.FloodZone(5, 5)
	if got == nil {
		t.Fatal("want a match")
	}
	if got.IsSFHA {
		t.Fatal("SFHA_TF comparison is exact, padded value must not qualify")
	}
}
