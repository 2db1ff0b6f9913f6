package geospatial_test

import (
	"math"
	"testing"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/pkg/geospatial"
)

func TestHaversine(t *testing.T) {
	// Seoul City Hall to Gangnam Station, roughly 8.1 km.
	cityHall := domain.Coordinate{Lat: 37.5663, Lon: 126.9779}
	gangnam := domain.Coordinate{Lat: 37.4979, Lon: 127.0276}

	d := geospatial.Haversine(cityHall, gangnam)
	if d < 7500 || d > 9500 {
		t.Errorf("expected ~8100m, got %.0f", d)
	}

	if z := geospatial.Haversine(cityHall, cityHall); z != 0 {
		t.Errorf("zero distance expected, got %f", z)
	}
}

func TestBoundingBox(t *testing.T) {
	center := domain.Coordinate{Lat: 37.5663, Lon: 126.9779}
	box := geospatial.BoundingBox(center, 1000)

	if !box.Contains(center) {
		t.Fatal("box must contain its own center")
	}

	// Edge of the box should be about the radius away along latitude.
	edge := domain.Coordinate{Lat: box.MaxLat, Lon: center.Lon}
	d := geospatial.Haversine(center, edge)
	if math.Abs(d-1000) > 50 {
		t.Errorf("north edge should be ~1000m out, got %.0f", d)
	}

	outside := domain.Coordinate{Lat: 37.60, Lon: 126.9779}
	if box.Contains(outside) {
		t.Error("point 3.7km north should fall outside a 1km box")
	}
}
