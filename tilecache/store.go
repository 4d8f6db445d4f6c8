// Package tilecache keeps a bounded local cache of slippy-map tiles: an
// in-memory index persisted crash-safe to disk, a fetch-or-serve store with
// request coalescing, and the age/size maintenance over both.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/strayfield/tilecache/storage"
	"github.com/strayfield/tilecache/tilemath"
)

var meter = otel.Meter("github.com/strayfield/tilecache/tilecache")

// ErrNotAvailable means the tile could not be fetched and no cached payload
// exists. Being offline is an expected condition, callers degrade instead of
// failing hard.
var ErrNotAvailable = errors.New("tile not available")

type inflight struct {
	done chan struct{}
	data []byte
	err  error
}

// Store serves tiles from the local cache, falling back to the remote source
// on a miss. Concurrent requests for the same key share one fetch.
type Store struct {
	index    *Index
	storage  storage.Storage
	fetcher  Fetcher
	sem      *semaphore.Weighted
	inflight *xsync.MapOf[tilemath.Key, *inflight]

	log *slog.Logger
	now func() time.Time

	metricHits        metric.Int64Counter
	metricFetches     metric.Int64Counter
	metricFetchErrors metric.Int64Counter
}

func NewStore(cfg Config, st storage.Storage, idx *Index, fetcher Fetcher, log *slog.Logger) (*Store, error) {
	cfg = cfg.Normalize()
	if log == nil {
		log = slog.Default()
	}

	hits, err := meter.Int64Counter("tile_cache_hits_total")
	if err != nil {
		return nil, err
	}
	fetches, err := meter.Int64Counter("tile_fetch_total")
	if err != nil {
		return nil, err
	}
	fetchErrors, err := meter.Int64Counter("tile_fetch_errors_total")
	if err != nil {
		return nil, err
	}

	return &Store{
		index:    idx,
		storage:  st,
		fetcher:  fetcher,
		sem:      semaphore.NewWeighted(int64(cfg.FetchConcurrency)),
		inflight: xsync.NewMapOf[tilemath.Key, *inflight](),

		log: log.With("component", "tilestore"),
		now: time.Now,

		metricHits:        hits,
		metricFetches:     fetches,
		metricFetchErrors: fetchErrors,
	}, nil
}

// Index exposes the metadata index shared with the maintainer.
func (s *Store) Index() *Index { return s.index }

// GetTile returns the payload for key, fetching it from the remote source if
// it is not cached. A cache hit refreshes the entry's access time and never
// touches the network.
func (s *Store) GetTile(ctx context.Context, key tilemath.Key) ([]byte, error) {
	if _, ok := s.index.Get(key); ok {
		data, err := s.storage.Read(key)
		if err == nil {
			s.metricHits.Add(ctx, 1)
			s.index.Touch(key, s.now())
			return data, nil
		}
		// Orphaned entry, the payload is gone. Refetch below.
		s.log.Warn("indexed tile missing from storage", "tile", key.String())
	}
	return s.fetch(ctx, key)
}

// Touch refreshes the access time of a cached tile without reading its
// payload. Reports false when the tile is not cached.
func (s *Store) Touch(key tilemath.Key) bool {
	return s.index.Touch(key, s.now())
}

// FlushIndex persists pending index mutations.
func (s *Store) FlushIndex() error {
	return s.index.Flush()
}

func (s *Store) fetch(ctx context.Context, key tilemath.Key) ([]byte, error) {
	call, loaded := s.inflight.LoadOrStore(key, &inflight{done: make(chan struct{})})
	if loaded {
		// Another caller already fetches this key, share its outcome.
		select {
		case <-call.done:
			return call.data, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call.data, call.err = s.doFetch(ctx, key)
	s.inflight.Delete(key)
	close(call.done)
	return call.data, call.err
}

func (s *Store) doFetch(ctx context.Context, key tilemath.Key) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s.metricFetches.Add(ctx, 1)
	data, fetchErr := s.fetcher.Fetch(ctx, key)
	s.sem.Release(1)

	if fetchErr != nil {
		s.metricFetchErrors.Add(ctx, 1)
		// Serve a stale payload over nothing at all.
		if stale, err := s.storage.Read(key); err == nil {
			s.log.Debug("serving stale tile after fetch failure",
				"tile", key.String(), "error", fetchErr.Error())
			return stale, nil
		}
		return nil, fmt.Errorf("tile %s: %w: %s", key, ErrNotAvailable, fetchErr)
	}

	// The payload must be durable before its index entry exists, otherwise a
	// crash leaves an entry pointing at nothing.
	if err := s.storage.Write(key, data); err != nil {
		return nil, fmt.Errorf("store tile %s: %w", key, err)
	}
	s.index.Put(key, Entry{LastAccessed: s.now(), SizeBytes: int64(len(data))})
	if err := s.index.Flush(); err != nil {
		s.log.Warn("tile index flush failed", "error", err.Error())
	}
	return data, nil
}
