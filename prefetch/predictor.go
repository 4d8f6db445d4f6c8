package prefetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/strayfield/tilecache/geomath"
	"github.com/strayfield/tilecache/tilecache"
)

// TrackPoint is one GPS fix from the external track collaborator.
type TrackPoint struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"time"`
}

func (tp TrackPoint) point() orb.Point {
	return orb.Point{tp.Lon, tp.Lat}
}

// TrackSource exposes the most recent GPS fixes, oldest first. The predictor
// only reads from it.
type TrackSource interface {
	RecentPoints(ctx context.Context, n int) ([]TrackPoint, error)
}

// PredictPoints projects lookahead future positions by chaining the
// destination-point formula along the bearing of the last two fixes, stepping
// by their great-circle distance. Fewer than two fixes, or a stationary
// device, yields nil.
func PredictPoints(track []TrackPoint, lookahead int) []orb.Point {
	if len(track) < 2 {
		return nil
	}
	p1 := track[len(track)-2].point()
	p2 := track[len(track)-1].point()

	step := geomath.Haversine(p1, p2)
	if step == 0 {
		// Duplicate fix, a bearing would be degenerate.
		return nil
	}
	heading := geomath.Bearing(p1, p2)

	pts := make([]orb.Point, 0, lookahead)
	cur := p2
	for i := 0; i < lookahead; i++ {
		cur = geomath.Destination(cur, heading, step)
		pts = append(pts, cur)
	}
	return pts
}

// LookaheadBound builds the bounding box to prefetch: the projected points
// plus the trailing observed fixes, padded on every side. Reports false when
// there is not enough track data to predict.
func LookaheadBound(track []TrackPoint, lookahead int, padding float64) (orb.Bound, bool) {
	projected := PredictPoints(track, lookahead)
	if len(projected) == 0 {
		return orb.Bound{}, false
	}

	recent := track
	if len(recent) > lookahead {
		recent = recent[len(recent)-lookahead:]
	}

	pts := make([]orb.Point, 0, len(projected)+len(recent))
	for _, tp := range recent {
		pts = append(pts, tp.point())
	}
	pts = append(pts, projected...)

	b := orb.Bound{Min: pts[0], Max: pts[0]}
	for _, pt := range pts[1:] {
		b = b.Extend(pt)
	}
	return padBound(b, padding), true
}

func padBound(b orb.Bound, padding float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{clamp(b.Min.X()-padding, -180, 180), clamp(b.Min.Y()-padding, -90, 90)},
		Max: orb.Point{clamp(b.Max.X()+padding, -180, 180), clamp(b.Max.Y()+padding, -90, 90)},
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

// Predictor glues a track source to the planner. It keeps no state between
// invocations, the external scheduler owns the cadence and the track.
type Predictor struct {
	planner *Planner
	source  TrackSource
	cfg     tilecache.Config
	log     *slog.Logger
}

func NewPredictor(planner *Planner, source TrackSource, cfg tilecache.Config, log *slog.Logger) *Predictor {
	if log == nil {
		log = slog.Default()
	}
	return &Predictor{
		planner: planner,
		source:  source,
		cfg:     cfg.Normalize(),
		log:     log.With("component", "routepredict"),
	}
}

// Run pulls the recent track, predicts the route ahead and prefetches the
// covering tiles. With fewer than two fixes, or a stationary device, it is a
// no-op.
func (p *Predictor) Run(ctx context.Context) (Summary, error) {
	n := p.cfg.Lookahead
	if n < 2 {
		n = 2
	}
	track, err := p.source.RecentPoints(ctx, n)
	if err != nil {
		return Summary{}, err
	}

	bound, ok := LookaheadBound(track, p.cfg.Lookahead, p.cfg.PaddingDegrees)
	if !ok {
		p.log.Debug("not enough track data to predict, skipping")
		return Summary{}, nil
	}

	return p.planner.Prefetch(ctx, bound, p.cfg.Zoom, nil)
}
