// Package geoindex maps geographic coordinates onto discrete grid cells.
//
// Cells are web-mercator map tiles identified as "res/x/y". The identifier is
// a pure function of (coordinate, resolution): two coordinates inside the same
// tile always produce the same id, independent of call order or floating-point
// accumulation. The boundary ring is derived from the tile bound and is used
// for display only.
package geoindex

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/townin/geocore/internal/core/domain"
)

const (
	// DefaultResolution yields tiles roughly 500 m across at the
	// mid-latitudes the platform serves (~480 m at 37.5°N).
	DefaultResolution = 16

	MinResolution = 1
	MaxResolution = 22

	// Web-mercator tiling is undefined beyond this latitude. Latitudes up
	// to ±90 are accepted and clamped for tiling, which keeps the mapping
	// deterministic for polar inputs.
	webMercatorMaxLat = 85.05112878

	earthCircumferenceM = 40075016.686
)

// Cell is the result of indexing a coordinate at a resolution.
type Cell struct {
	ID         string
	Resolution int
	Centroid   domain.Coordinate
	Boundary   domain.Ring
}

// Index resolves a coordinate to its grid cell at the given resolution.
// Returns domain.ErrInvalidCoordinate for out-of-range inputs.
func Index(c domain.Coordinate, resolution int) (Cell, error) {
	if err := c.Validate(); err != nil {
		return Cell{}, err
	}
	if resolution < MinResolution || resolution > MaxResolution {
		return Cell{}, fmt.Errorf("resolution %d out of range [%d,%d]", resolution, MinResolution, MaxResolution)
	}

	lat := clamp(c.Lat, -webMercatorMaxLat, webMercatorMaxLat)
	// The eastern edge of the antimeridian belongs to the last tile column.
	lon := c.Lon
	if lon == 180 {
		lon = math.Nextafter(180, -180)
	}

	tile := maptile.At(orb.Point{lon, lat}, maptile.Zoom(resolution))
	return fromTile(tile), nil
}

// Parse resolves a cell identifier back to its cell. Returns
// domain.ErrNotFound for identifiers that name no valid tile.
func Parse(cellID string) (Cell, error) {
	parts := strings.Split(cellID, "/")
	if len(parts) != 3 {
		return Cell{}, fmt.Errorf("%w: malformed cell id %q", domain.ErrNotFound, cellID)
	}
	res, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.ParseUint(parts[1], 10, 32)
	y, err3 := strconv.ParseUint(parts[2], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || res < MinResolution || res > MaxResolution {
		return Cell{}, fmt.Errorf("%w: malformed cell id %q", domain.ErrNotFound, cellID)
	}
	max := uint64(1) << uint(res)
	if x >= max || y >= max {
		return Cell{}, fmt.Errorf("%w: cell id %q outside tile grid", domain.ErrNotFound, cellID)
	}
	return fromTile(maptile.New(uint32(x), uint32(y), maptile.Zoom(res))), nil
}

// CellSizeMeters returns the tile width at the equator for a resolution.
// Actual width shrinks with cos(latitude).
func CellSizeMeters(resolution int) float64 {
	return earthCircumferenceM / math.Exp2(float64(resolution))
}

func fromTile(t maptile.Tile) Cell {
	bound := t.Bound()
	center := bound.Center()

	min, max := bound.Min, bound.Max
	boundary := domain.Ring{
		{Lat: min.Lat(), Lon: min.Lon()},
		{Lat: min.Lat(), Lon: max.Lon()},
		{Lat: max.Lat(), Lon: max.Lon()},
		{Lat: max.Lat(), Lon: min.Lon()},
		{Lat: min.Lat(), Lon: min.Lon()},
	}

	return Cell{
		ID:         fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y),
		Resolution: int(t.Z),
		Centroid:   domain.Coordinate{Lat: center.Lat(), Lon: center.Lon()},
		Boundary:   boundary,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
