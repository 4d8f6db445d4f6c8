package tilecache

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/strayfield/tilecache/storage"
)

// Maintainer enforces the age and size bounds over a tile cache. It shares
// the index with the store, so accounting never races concurrent fetches.
type Maintainer struct {
	index   *Index
	storage storage.Storage

	log *slog.Logger
	now func() time.Time
}

func NewMaintainer(idx *Index, st storage.Storage, log *slog.Logger) *Maintainer {
	if log == nil {
		log = slog.Default()
	}
	return &Maintainer{
		index:   idx,
		storage: st,
		log:     log.With("component", "maintainer"),
		now:     time.Now,
	}
}

// PurgeOlderThan removes every tile whose last access is strictly older than
// maxAgeDays. Entries exactly at the boundary are kept. Safe to re-run.
func (m *Maintainer) PurgeOlderThan(ctx context.Context, maxAgeDays int) (int, error) {
	cutoff := m.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	purged := 0
	for _, ke := range m.index.Snapshot() {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if !ke.LastAccessed.Before(cutoff) {
			continue
		}
		// Payload first: a crash here leaves an orphaned entry, which the
		// store treats as a plain miss.
		if err := m.storage.Delete(ke.Key); err != nil {
			m.log.Warn("failed to delete tile payload", "tile", ke.Key.String(), "error", err.Error())
			continue
		}
		m.index.Delete(ke.Key)
		purged++
	}

	if err := m.index.Flush(); err != nil {
		return purged, err
	}
	if purged > 0 {
		m.log.Info("purged aged tiles", "count", purged, "max_age_days", maxAgeDays)
	}
	return purged, nil
}

// EnforceSizeLimit evicts least-recently-accessed tiles until the total
// payload size fits within maxBytes. Returns the eviction count and the
// resulting total size.
func (m *Maintainer) EnforceSizeLimit(ctx context.Context, maxBytes int64) (int, int64, error) {
	total := m.index.TotalSize()
	if total <= maxBytes {
		return 0, total, nil
	}

	m.log.Info("tile cache over size limit",
		"total", humanize.Bytes(uint64(total)), "limit", humanize.Bytes(uint64(maxBytes)))

	evicted := 0
	for _, ke := range m.index.OldestFirst() {
		if total <= maxBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			return evicted, total, err
		}
		if err := m.storage.Delete(ke.Key); err != nil {
			m.log.Warn("failed to delete tile payload", "tile", ke.Key.String(), "error", err.Error())
			continue
		}
		m.index.Delete(ke.Key)
		total -= ke.SizeBytes
		evicted++
	}

	if err := m.index.Flush(); err != nil {
		return evicted, total, err
	}
	m.log.Info("evicted tiles to size limit",
		"count", evicted, "total", humanize.Bytes(uint64(total)))
	return evicted, total, nil
}
