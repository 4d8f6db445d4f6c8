package tilecache

import (
	"runtime"
	"time"
)

// Config bundles the tunables of the tile cache and its prefetchers.
type Config struct {
	// MaxAgeDays is the age bound for PurgeOlderThan.
	MaxAgeDays int
	// MaxSizeBytes is the total payload budget for EnforceSizeLimit.
	MaxSizeBytes int64
	// Zoom used for route-driven prefetch.
	Zoom int
	// Lookahead is how many points ahead the route predictor projects.
	Lookahead int
	// PaddingDegrees widens the lookahead bounding box on every side to
	// absorb route curvature and GPS noise.
	PaddingDegrees float64
	// FetchConcurrency bounds in-flight tile fetches.
	FetchConcurrency int
	// URLTemplate is the tile source with {z}/{x}/{y} placeholders.
	URLTemplate string
	// FetchTimeout bounds a single tile fetch.
	FetchTimeout time.Duration
}

const DefaultURLTemplate = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

func DefaultConfig() Config {
	return Config{
		MaxAgeDays:       30,
		MaxSizeBytes:     512 << 20,
		Zoom:             16,
		Lookahead:        5,
		PaddingDegrees:   0.01,
		FetchConcurrency: max(4, runtime.GOMAXPROCS(0)),
		URLTemplate:      DefaultURLTemplate,
		FetchTimeout:     10 * time.Second,
	}
}

// Normalize fills zero values with defaults so a partially populated Config
// is always safe to use.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = def.MaxAgeDays
	}
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = def.MaxSizeBytes
	}
	if c.Zoom <= 0 {
		c.Zoom = def.Zoom
	}
	if c.Lookahead <= 0 {
		c.Lookahead = def.Lookahead
	}
	if c.PaddingDegrees <= 0 {
		c.PaddingDegrees = def.PaddingDegrees
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = def.FetchConcurrency
	}
	if c.URLTemplate == "" {
		c.URLTemplate = def.URLTemplate
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	return c
}
