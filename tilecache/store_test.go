package tilecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strayfield/tilecache/storage"
	"github.com/strayfield/tilecache/tilemath"
)

type fakeFetcher struct {
	calls   atomic.Int64
	fail    atomic.Bool
	delay   time.Duration
	payload []byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, key tilemath.Key) ([]byte, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail.Load() {
		return nil, errors.New("connection refused")
	}
	if f.payload != nil {
		return f.payload, nil
	}
	return []byte("tile:" + key.String()), nil
}

func newTestStore(t *testing.T, fetcher Fetcher) (*Store, *storage.MemoryStorage) {
	t.Helper()
	st := storage.NewMemoryStorage()
	idx := LoadIndex("", slog.Default())
	store, err := NewStore(DefaultConfig(), st, idx, fetcher, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return store, st
}

func TestGetTileFetchesOnceThenServesFromCache(t *testing.T) {
	fetcher := &fakeFetcher{}
	store, _ := newTestStore(t, fetcher)
	key := tilemath.Key{Zoom: 16, X: 100, Y: 200}

	data, err := store.GetTile(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tile:16/100/200" {
		t.Fatalf("payload = %q", data)
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}

	// Go offline: the cached tile must still be served without a fetch.
	fetcher.fail.Store(true)
	data, err = store.GetTile(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tile:16/100/200" {
		t.Fatalf("payload after cache hit = %q", data)
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("fetch calls after hit = %d, want 1", n)
	}
}

func TestGetTileHitRefreshesAccessTime(t *testing.T) {
	fetcher := &fakeFetcher{}
	store, _ := newTestStore(t, fetcher)
	key := tilemath.Key{Zoom: 1, X: 0, Y: 0}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	if _, err := store.GetTile(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	store.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := store.GetTile(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	e, ok := store.Index().Get(key)
	if !ok {
		t.Fatal("entry missing")
	}
	if !e.LastAccessed.Equal(base.Add(time.Hour)) {
		t.Fatalf("lastAccessed = %v, want refreshed to %v", e.LastAccessed, base.Add(time.Hour))
	}
}

func TestGetTileNotAvailableOffline(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fail.Store(true)
	store, _ := newTestStore(t, fetcher)

	_, err := store.GetTile(context.Background(), tilemath.Key{Zoom: 5, X: 1, Y: 1})
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("err = %v, want ErrNotAvailable", err)
	}
}

func TestGetTileServesStaleOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fail.Store(true)
	store, st := newTestStore(t, fetcher)
	key := tilemath.Key{Zoom: 7, X: 3, Y: 9}

	// Payload present but unindexed, e.g. the index document was lost.
	if err := st.Write(key, []byte("stale bytes")); err != nil {
		t.Fatal(err)
	}

	data, err := store.GetTile(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "stale bytes" {
		t.Fatalf("payload = %q, want the stale copy", data)
	}
}

func TestGetTileCoalescesConcurrentFetches(t *testing.T) {
	fetcher := &fakeFetcher{delay: 50 * time.Millisecond}
	store, _ := newTestStore(t, fetcher)
	key := tilemath.Key{Zoom: 12, X: 7, Y: 7}

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.GetTile(context.Background(), key)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want exactly 1 for coalesced requests", n)
	}
}

type failingStorage struct {
	*storage.MemoryStorage
}

func (f failingStorage) Write(key tilemath.Key, data []byte) error {
	return fmt.Errorf("disk full")
}

func TestGetTileStorageWriteFailureKeepsIndexClean(t *testing.T) {
	fetcher := &fakeFetcher{}
	idx := LoadIndex("", slog.Default())
	store, err := NewStore(DefaultConfig(), failingStorage{storage.NewMemoryStorage()}, idx, fetcher, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.GetTile(context.Background(), tilemath.Key{Zoom: 2, X: 1, Y: 1})
	if err == nil {
		t.Fatal("expected an error when the payload cannot be written")
	}
	if idx.Len() != 0 {
		t.Fatalf("index has %d entries after failed write, want 0", idx.Len())
	}
}
