// Package prefetch proactively warms the tile cache: a planner expands a
// bounding box into per-tile requests, and a predictor builds that box ahead
// of a moving device from its recent GPS track.
package prefetch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"github.com/sourcegraph/conc/pool"

	"github.com/strayfield/tilecache/tilecache"
	"github.com/strayfield/tilecache/tilemath"
)

// Summary reports the outcome of one prefetch batch. Individual tile
// failures are aggregated here, never silently dropped.
type Summary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ProgressFunc is invoked after every finished tile.
type ProgressFunc func(done, total int)

// Planner drives the tile store over the tiles of a bounding box.
type Planner struct {
	store       *tilecache.Store
	concurrency int
	log         *slog.Logger
}

func NewPlanner(store *tilecache.Store, concurrency int, log *slog.Logger) *Planner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		store:       store,
		concurrency: concurrency,
		log:         log.With("component", "prefetch"),
	}
}

// Prefetch fetches every tile covering bound at the given zoom. Tiles that
// are already cached are touched so they stay ahead of eviction. A single
// tile failing does not abort the batch. Cancellation is cooperative: tiles
// already in flight finish, no new ones start.
func (p *Planner) Prefetch(ctx context.Context, bound orb.Bound, zoom int, onProgress ProgressFunc) (Summary, error) {
	if _, err := tilemath.BoundFromEdges(bound.Min.Y(), bound.Min.X(), bound.Max.Y(), bound.Max.X()); err != nil {
		return Summary{}, err
	}

	keys := tilemath.RangeFromBound(bound, zoom).Keys(zoom)
	total := len(keys)
	p.log.Info("prefetching tiles", "zoom", zoom, "total", total)

	var (
		mu      sync.Mutex
		done    int
		summary Summary
	)
	finish := func(failed bool) {
		mu.Lock()
		if failed {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
		done++
		d := done
		mu.Unlock()
		if onProgress != nil {
			onProgress(d, total)
		}
	}

	workers := pool.New().WithMaxGoroutines(p.concurrency)
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		summary.Attempted++
		key := key
		workers.Go(func() {
			if p.store.Touch(key) {
				// Warm tile: refreshing its access time is all the work.
				finish(false)
				return
			}
			if _, err := p.store.GetTile(ctx, key); err != nil {
				p.log.Warn("tile prefetch failed", "tile", key.String(), "error", err.Error())
				finish(true)
				return
			}
			finish(false)
		})
	}
	workers.Wait()

	if err := p.store.FlushIndex(); err != nil {
		p.log.Warn("tile index flush failed", "error", err.Error())
	}

	p.log.Info("prefetch finished",
		"attempted", summary.Attempted, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, ctx.Err()
}
