// Package geomath implements the great-circle math used for route
// prediction: haversine distance, initial bearing and the spherical
// destination-point formula. Points follow the orb convention {lon, lat}.
//
// orb/geo ships similar helpers, but they are pinned to the Mercator radius
// (6378137 m); prediction here uses the mean Earth radius so projected step
// distances match the haversine distances reported to callers.
package geomath

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Haversine returns the great-circle distance between two points in meters.
func Haversine(p1, p2 orb.Point) float64 {
	lat1 := radians(p1.Y())
	lat2 := radians(p2.Y())
	dLat := radians(p2.Y() - p1.Y())
	dLon := radians(p2.X() - p1.X())

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Bearing returns the initial compass bearing from p1 to p2 in degrees,
// normalized to [0, 360).
func Bearing(p1, p2 orb.Point) float64 {
	lat1 := radians(p1.Y())
	lat2 := radians(p2.Y())
	dLon := radians(p2.X() - p1.X())

	x := math.Sin(dLon) * math.Cos(lat2)
	y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(degrees(math.Atan2(x, y))+360, 360)
}

// Destination returns the point reached by travelling distance meters from
// origin along the given bearing on a great circle. Longitude is normalized
// to [-180, 180).
func Destination(origin orb.Point, bearing, distance float64) orb.Point {
	ang := distance / EarthRadius
	lat1 := radians(origin.Y())
	lon1 := radians(origin.X())
	br := radians(bearing)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(br))
	lon2 := lon1 + math.Atan2(
		math.Sin(br)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2),
	)

	lon := math.Mod(degrees(lon2)+540, 360) - 180
	return orb.Point{lon, degrees(lat2)}
}
