// Package tilemath converts between geographic coordinates and slippy-map
// tile coordinates under the standard Web Mercator tiling scheme.
package tilemath

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// MaxLatitude is the northern/southern limit of the Web Mercator projection.
const MaxLatitude = 85.0511287798

var ErrInvalidBound = errors.New("invalid bounding box")

// Key identifies a single raster tile.
type Key struct {
	Zoom int
	X    int
	Y    int
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Zoom, k.X, k.Y)
}

// Deg2Num converts a latitude/longitude pair to tile coordinates at the given
// zoom. Results are clamped into [0, 2^zoom) so that poles and the antimeridian
// never produce an out-of-range tile.
func Deg2Num(lat, lon float64, zoom int) (x, y int) {
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180
	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2.0 * n))

	max := int(n) - 1
	if x < 0 {
		x = 0
	} else if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	} else if y > max {
		y = max
	}
	return x, y
}

// Num2Deg returns the latitude/longitude of the north-west corner of a tile.
func Num2Deg(x, y, zoom int) (lat, lon float64) {
	n := math.Exp2(float64(zoom))
	lon = float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	lat = latRad * 180.0 / math.Pi
	return lat, lon
}

// BoundFromEdges builds an orb.Bound from bounding box edges in degrees,
// rejecting inverted or out-of-range coordinates. orb convention: a point is
// {lon, lat}.
func BoundFromEdges(minLat, minLon, maxLat, maxLon float64) (orb.Bound, error) {
	if minLat > maxLat || minLon > maxLon {
		return orb.Bound{}, fmt.Errorf("%w: min corner above max corner", ErrInvalidBound)
	}
	if minLat < -90 || maxLat > 90 || minLon < -180 || maxLon > 180 {
		return orb.Bound{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidBound)
	}
	return orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}, nil
}

// Range is an inclusive rectangle of tile coordinates at one zoom level.
type Range struct {
	XMin, XMax int
	YMin, YMax int
}

// RangeFromBound maps a bounding box to the tile range covering it. The y axis
// grows southward, so the maximum-latitude corner yields the minimum y.
func RangeFromBound(b orb.Bound, zoom int) Range {
	x1, y1 := Deg2Num(b.Max.Y(), b.Min.X(), zoom) // NW corner
	x2, y2 := Deg2Num(b.Min.Y(), b.Max.X(), zoom) // SE corner
	return Range{
		XMin: min(x1, x2),
		XMax: max(x1, x2),
		YMin: min(y1, y2),
		YMax: max(y1, y2),
	}
}

// Count reports how many tiles the range contains.
func (r Range) Count() int {
	return (r.XMax - r.XMin + 1) * (r.YMax - r.YMin + 1)
}

// Keys enumerates every tile key in the range.
func (r Range) Keys(zoom int) []Key {
	keys := make([]Key, 0, r.Count())
	for x := r.XMin; x <= r.XMax; x++ {
		for y := r.YMin; y <= r.YMax; y++ {
			keys = append(keys, Key{Zoom: zoom, X: x, Y: y})
		}
	}
	return keys
}
