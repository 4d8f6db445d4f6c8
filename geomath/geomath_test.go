package geomath

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestHaversineAlongEquator(t *testing.T) {
	p1 := orb.Point{0, 0}
	p2 := orb.Point{0.001, 0}

	// 0.001 degrees of arc on the mean-radius sphere.
	want := EarthRadius * 0.001 * math.Pi / 180
	got := Haversine(p1, p2)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("distance = %.9f, want %.9f", got, want)
	}
}

func TestHaversineZero(t *testing.T) {
	p := orb.Point{10.5, 45.2}
	if d := Haversine(p, p); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}
}

func TestBearingCardinal(t *testing.T) {
	origin := orb.Point{0, 0}
	cases := []struct {
		to   orb.Point
		want float64
	}{
		{orb.Point{0, 1}, 0},    // north
		{orb.Point{1, 0}, 90},   // east
		{orb.Point{0, -1}, 180}, // south
		{orb.Point{-1, 0}, 270}, // west
	}
	for _, c := range cases {
		got := Bearing(origin, c.to)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Bearing(origin, %v) = %v, want %v", c.to, got, c.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("bearing %v not normalized to [0, 360)", got)
		}
	}
}

func TestDestinationEastThenBack(t *testing.T) {
	origin := orb.Point{0, 0}
	dist := 111194.9 // roughly one degree of longitude at the equator

	dest := Destination(origin, 90, dist)
	if math.Abs(dest.Y()) > 1e-9 {
		t.Fatalf("eastbound travel changed latitude: %v", dest.Y())
	}
	if back := Destination(dest, 270, dist); Haversine(origin, back) > 1e-5 {
		t.Fatalf("did not return to origin, off by %v m", Haversine(origin, back))
	}

	// Projection distance must agree with the haversine measurement.
	if got := Haversine(origin, dest); math.Abs(got-dist) > 1e-5 {
		t.Fatalf("projected distance = %v, want %v", got, dist)
	}
}

func TestDestinationNormalizesLongitude(t *testing.T) {
	origin := orb.Point{179.999, 0}
	dest := Destination(origin, 90, 10000)
	if dest.X() < -180 || dest.X() >= 180 {
		t.Fatalf("longitude %v not normalized", dest.X())
	}
	if dest.X() > 0 {
		t.Fatalf("expected wrap across the antimeridian, got %v", dest.X())
	}
}
