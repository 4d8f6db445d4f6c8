package tilecache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/strayfield/tilecache/tilemath"
)

// IndexFileName is the single metadata document at the cache root.
const IndexFileName = "tile-cache-index.json"

// Entry is the cached metadata for one tile payload.
type Entry struct {
	LastAccessed time.Time `json:"time"`
	SizeBytes    int64     `json:"size"`
}

// KeyEntry pairs a tile key with its metadata, used for snapshots.
type KeyEntry struct {
	Key tilemath.Key
	Entry
}

// Index maps tile keys to access metadata. The whole index lives in memory
// and is rewritten to disk with a temp-file-then-rename swap, so a crash
// mid-write never yields a half-written document.
type Index struct {
	mu      sync.RWMutex
	entries map[tilemath.Key]Entry
	path    string
	dirty   bool

	log *slog.Logger
}

// LoadIndex reads the index document at path. A missing file yields an empty
// index; an unreadable or malformed one is treated as empty with a warning,
// cache metadata is not worth failing startup over. An empty path keeps the
// index memory-only.
func LoadIndex(path string, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	idx := &Index{
		entries: make(map[tilemath.Key]Entry),
		path:    path,
		log:     log.With("component", "tileindex"),
	}
	if path == "" {
		return idx
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx
	}
	if err == nil {
		err = idx.unmarshal(data)
	}
	if err != nil {
		idx.log.Warn("tile index unreadable, starting with empty cache", "path", path, "error", err.Error())
		idx.entries = make(map[tilemath.Key]Entry)
	}
	return idx
}

func (idx *Index) unmarshal(data []byte) error {
	raw := map[string]Entry{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for s, e := range raw {
		key, err := parseKey(s)
		if err != nil {
			return err
		}
		idx.entries[key] = e
	}
	return nil
}

func parseKey(s string) (tilemath.Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return tilemath.Key{}, fmt.Errorf("malformed tile key %q", s)
	}
	z, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return tilemath.Key{}, fmt.Errorf("malformed tile key %q", s)
	}
	return tilemath.Key{Zoom: z, X: x, Y: y}, nil
}

func (idx *Index) Get(key tilemath.Key) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[key]
	return e, ok
}

func (idx *Index) Put(key tilemath.Key, e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[key] = e
	idx.dirty = true
}

// Touch refreshes the access time of an existing entry. Reports whether the
// key was present.
func (idx *Index) Touch(key tilemath.Key, t time.Time) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[key]
	if !ok {
		return false
	}
	e.LastAccessed = t
	idx.entries[key] = e
	idx.dirty = true
	return true
}

func (idx *Index) Delete(key tilemath.Key) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.entries[key]; ok {
		delete(idx.entries, key)
		idx.dirty = true
	}
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// TotalSize sums the payload bytes of all entries.
func (idx *Index) TotalSize() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var total int64
	for _, e := range idx.entries {
		total += e.SizeBytes
	}
	return total
}

// Snapshot returns a copy of all entries in no particular order.
func (idx *Index) Snapshot() []KeyEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]KeyEntry, 0, len(idx.entries))
	for k, e := range idx.entries {
		out = append(out, KeyEntry{Key: k, Entry: e})
	}
	return out
}

// OldestFirst returns a snapshot sorted by ascending access time, ties broken
// by key string so eviction order is deterministic.
func (idx *Index) OldestFirst() []KeyEntry {
	out := idx.Snapshot()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].LastAccessed.Before(out[j].LastAccessed)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Flush rewrites the index document if it has unsaved mutations.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty || idx.path == "" {
		return nil
	}

	raw := make(map[string]Entry, len(idx.entries))
	for k, e := range idx.entries {
		raw[k.String()] = e
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal tile index: %w", err)
	}

	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tile index: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swap tile index: %w", err)
	}
	idx.dirty = false
	return nil
}
