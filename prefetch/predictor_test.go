package prefetch

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/strayfield/tilecache/geomath"
	"github.com/strayfield/tilecache/tilecache"
)

func eastwardTrack() []TrackPoint {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []TrackPoint{
		{Lat: 0, Lon: 0, Time: start},
		{Lat: 0, Lon: 0.001, Time: start.Add(time.Second)},
	}
}

func TestPredictPointsHeadsEastWithConstantSpacing(t *testing.T) {
	track := eastwardTrack()
	step := geomath.Haversine(orb.Point{0, 0}, orb.Point{0.001, 0})

	pts := PredictPoints(track, 3)
	if len(pts) != 3 {
		t.Fatalf("got %d points, want 3", len(pts))
	}

	prev := orb.Point{0.001, 0}
	for i, pt := range pts {
		bearing := geomath.Bearing(prev, pt)
		if math.Abs(bearing-90) > 1e-6 {
			t.Errorf("point %d: bearing = %v, want 90", i, bearing)
		}
		spacing := geomath.Haversine(prev, pt)
		if math.Abs(spacing-step) > 1e-6 {
			t.Errorf("point %d: spacing = %v, want %v", i, spacing, step)
		}
		prev = pt
	}
}

func TestPredictPointsInsufficientData(t *testing.T) {
	if pts := PredictPoints(nil, 3); pts != nil {
		t.Fatalf("empty track predicted %d points", len(pts))
	}
	if pts := PredictPoints(eastwardTrack()[:1], 3); pts != nil {
		t.Fatalf("single fix predicted %d points", len(pts))
	}
}

func TestPredictPointsStationaryDevice(t *testing.T) {
	start := time.Now()
	track := []TrackPoint{
		{Lat: 52.52, Lon: 13.405, Time: start},
		{Lat: 52.52, Lon: 13.405, Time: start.Add(time.Second)},
	}
	if pts := PredictPoints(track, 5); pts != nil {
		t.Fatalf("duplicate fix predicted %d points", len(pts))
	}
}

func TestLookaheadBoundCoversTrackAndPadding(t *testing.T) {
	track := eastwardTrack()
	const padding = 0.01

	bound, ok := LookaheadBound(track, 3, padding)
	if !ok {
		t.Fatal("expected a bound from a moving track")
	}

	// The trailing observed fixes are part of the box.
	if bound.Min.X() > 0-padding+1e-9 {
		t.Fatalf("west edge %v does not cover the first observed fix", bound.Min.X())
	}
	// Three projected steps of ~0.001 degrees past the last fix.
	if bound.Max.X() < 0.004+padding-1e-6 {
		t.Fatalf("east edge %v does not cover the projected route", bound.Max.X())
	}
	if bound.Min.Y() > -padding+1e-9 || bound.Max.Y() < padding-1e-9 {
		t.Fatalf("latitude padding missing: %v..%v", bound.Min.Y(), bound.Max.Y())
	}
}

func TestLookaheadBoundNoData(t *testing.T) {
	if _, ok := LookaheadBound(nil, 3, 0.01); ok {
		t.Fatal("empty track produced a bound")
	}
}

type stubTrackSource struct {
	points []TrackPoint
}

func (s *stubTrackSource) RecentPoints(_ context.Context, n int) ([]TrackPoint, error) {
	if len(s.points) <= n {
		return s.points, nil
	}
	return s.points[len(s.points)-n:], nil
}

func TestPredictorRunPrefetchesAhead(t *testing.T) {
	fetcher := &countingFetcher{}
	planner, _ := newTestPlanner(t, fetcher)

	cfg := tilecache.DefaultConfig()
	cfg.Zoom = 14
	cfg.Lookahead = 3
	predictor := NewPredictor(planner, &stubTrackSource{points: eastwardTrack()}, cfg, slog.Default())

	summary, err := predictor.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Attempted == 0 {
		t.Fatal("moving track prefetched nothing")
	}
	if summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if fetcher.calls.Load() != int64(summary.Attempted) {
		t.Fatalf("fetches = %d, attempted = %d", fetcher.calls.Load(), summary.Attempted)
	}
}

func TestPredictorRunSkipsWithoutTrack(t *testing.T) {
	fetcher := &countingFetcher{}
	planner, _ := newTestPlanner(t, fetcher)
	predictor := NewPredictor(planner, &stubTrackSource{}, tilecache.DefaultConfig(), slog.Default())

	summary, err := predictor.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary != (Summary{}) {
		t.Fatalf("summary = %+v, want zero value", summary)
	}
	if n := fetcher.calls.Load(); n != 0 {
		t.Fatalf("no-op run issued %d fetches", n)
	}
}
