package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/strayfield/tilecache/internal/stats"
	"github.com/strayfield/tilecache/prefetch"
	"github.com/strayfield/tilecache/storage"
	"github.com/strayfield/tilecache/tilecache"
	"github.com/strayfield/tilecache/tilemath"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"
)

const defaultTileFolder = "/mnt/ssd/tiles"

func main() {
	folderFlag := &cli.StringFlag{
		Name:    "folder",
		Aliases: []string{"f"},
		Value:   defaultTileFolder,
		Usage:   "tile cache root directory",
	}
	urlFlag := &cli.StringFlag{
		Name:  "url",
		Value: tilecache.DefaultURLTemplate,
		Usage: "tile source URL template with {z}/{x}/{y} placeholders",
	}

	app := &cli.App{
		Name:        "tilecache",
		Description: "Offline map tile cache with predictive prefetching",
		Commands: []*cli.Command{
			{
				Name:      "prefetch",
				Usage:     "download all tiles covering a bounding box",
				ArgsUsage: "<minLat> <minLon> <maxLat> <maxLon>",
				Flags: []cli.Flag{
					folderFlag,
					urlFlag,
					&cli.IntFlag{
						Name:    "zoom",
						Aliases: []string{"z"},
						Value:   16,
					},
					&cli.IntFlag{
						Name:        "concurrency",
						Aliases:     []string{"c"},
						DefaultText: "max(4, GOMAXPROCS)",
					},
					&cli.BoolFlag{
						Name:  "stats",
						Usage: "sample process resource usage during the run",
					},
				},
				Action: prefetchBBox,
			},
			{
				Name:  "route-prefetch",
				Usage: "prefetch tiles ahead of the travel direction of a GPS track",
				Flags: []cli.Flag{
					folderFlag,
					urlFlag,
					&cli.StringFlag{
						Name:      "track",
						Aliases:   []string{"t"},
						Required:  true,
						TakesFile: true,
						Usage:     "JSON file with recent track points",
					},
					&cli.IntFlag{
						Name:    "zoom",
						Aliases: []string{"z"},
						Value:   16,
					},
					&cli.IntFlag{
						Name:  "lookahead",
						Value: 5,
					},
					&cli.StringFlag{
						Name:  "padding",
						Value: "0.01",
						Usage: "bounding box padding in degrees",
					},
				},
				Action: prefetchRoute,
			},
			{
				Name:  "purge-old",
				Usage: "delete tiles not accessed for a number of days",
				Flags: []cli.Flag{
					folderFlag,
					&cli.IntFlag{
						Name:  "days",
						Value: 30,
					},
				},
				Action: purgeOld,
			},
			{
				Name:  "enforce-limit",
				Usage: "evict least-recently-used tiles above a size budget",
				Flags: []cli.Flag{
					folderFlag,
					&cli.IntFlag{
						Name:  "limit-mb",
						Value: 512,
					},
				},
				Action: enforceLimit,
			},
			{
				Name:  "serve",
				Usage: "serve cached tiles to a local map view",
				Flags: []cli.Flag{
					folderFlag,
					urlFlag,
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
					},
					&cli.StringFlag{
						Name:  "otlp.endpoint",
						Usage: "push telemetry to this OTLP endpoint",
					},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// openCache builds the filesystem-backed cache stack under folder.
func openCache(folder, urlTemplate string, cfg tilecache.Config) (*tilecache.Store, error) {
	cfg = cfg.Normalize()

	st, err := storage.NewFileStorage(folder, extFromTemplate(urlTemplate))
	if err != nil {
		return nil, err
	}
	idx := tilecache.LoadIndex(filepath.Join(folder, tilecache.IndexFileName), slog.Default())
	fetcher := tilecache.NewHTTPFetcher(urlTemplate, cfg.FetchTimeout)
	return tilecache.NewStore(cfg, st, idx, fetcher, slog.Default())
}

func extFromTemplate(template string) string {
	ext := strings.TrimPrefix(path.Ext(template), ".")
	if ext == "" {
		ext = "png"
	}
	return ext
}

func prefetchBBox(ctx *cli.Context) error {
	if ctx.Args().Len() != 4 {
		return fmt.Errorf("expected 4 arguments: <minLat> <minLon> <maxLat> <maxLon>")
	}
	edges := make([]float64, 4)
	for i := range edges {
		v, err := strconv.ParseFloat(ctx.Args().Get(i), 64)
		if err != nil {
			return fmt.Errorf("invalid bounding box coordinate %q: %w", ctx.Args().Get(i), err)
		}
		edges[i] = v
	}
	bound, err := tilemath.BoundFromEdges(edges[0], edges[1], edges[2], edges[3])
	if err != nil {
		return err
	}
	zoom := ctx.Int("zoom")

	cfg := tilecache.DefaultConfig()
	if c := ctx.Int("concurrency"); c > 0 {
		cfg.FetchConcurrency = c
	}
	store, err := openCache(ctx.String("folder"), ctx.String("url"), cfg)
	if err != nil {
		return err
	}

	var collector *stats.Collector
	if ctx.Bool("stats") {
		collector, err = stats.NewCollector(5 * time.Second)
		if err != nil {
			return err
		}
		collector.Start()
	}

	total := tilemath.RangeFromBound(bound, zoom).Count()
	bar := pb.StartNew(total)
	planner := prefetch.NewPlanner(store, cfg.FetchConcurrency, slog.Default())
	summary, err := planner.Prefetch(ctx.Context, bound, zoom, func(done, total int) {
		bar.SetCurrent(int64(done))
	})
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("Prefetch complete: %d attempted, %d succeeded, %d failed\n",
		summary.Attempted, summary.Succeeded, summary.Failed)

	if collector != nil {
		sum := collector.Stop()
		fmt.Printf("Run took %s, peak RSS %s, peak heap %s, avg CPU %.1f%%\n",
			sum.ElapsedHuman,
			humanize.Bytes(sum.PeakProcessRSS),
			humanize.Bytes(sum.PeakHeapAlloc),
			sum.AvgCPUPercent)
	}
	return nil
}

func prefetchRoute(ctx *cli.Context) error {
	padding, err := strconv.ParseFloat(ctx.String("padding"), 64)
	if err != nil {
		return fmt.Errorf("invalid padding %q: %w", ctx.String("padding"), err)
	}

	cfg := tilecache.DefaultConfig()
	cfg.Zoom = ctx.Int("zoom")
	cfg.Lookahead = ctx.Int("lookahead")
	cfg.PaddingDegrees = padding

	store, err := openCache(ctx.String("folder"), ctx.String("url"), cfg)
	if err != nil {
		return err
	}
	source, err := newFileTrackSource(ctx.String("track"))
	if err != nil {
		return err
	}

	planner := prefetch.NewPlanner(store, cfg.FetchConcurrency, slog.Default())
	predictor := prefetch.NewPredictor(planner, source, cfg, slog.Default())
	summary, err := predictor.Run(ctx.Context)
	if err != nil {
		return err
	}

	fmt.Printf("Route prefetch complete: %d attempted, %d succeeded, %d failed\n",
		summary.Attempted, summary.Succeeded, summary.Failed)
	return nil
}

func purgeOld(ctx *cli.Context) error {
	folder := ctx.String("folder")
	st, err := storage.NewFileStorage(folder, "png")
	if err != nil {
		return err
	}
	idx := tilecache.LoadIndex(filepath.Join(folder, tilecache.IndexFileName), slog.Default())

	m := tilecache.NewMaintainer(idx, st, slog.Default())
	purged, err := m.PurgeOlderThan(ctx.Context, ctx.Int("days"))
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d tiles older than %d days\n", purged, ctx.Int("days"))
	return nil
}

func enforceLimit(ctx *cli.Context) error {
	folder := ctx.String("folder")
	st, err := storage.NewFileStorage(folder, "png")
	if err != nil {
		return err
	}
	idx := tilecache.LoadIndex(filepath.Join(folder, tilecache.IndexFileName), slog.Default())

	limit := int64(ctx.Int("limit-mb")) << 20
	m := tilecache.NewMaintainer(idx, st, slog.Default())
	evicted, total, err := m.EnforceSizeLimit(ctx.Context, limit)
	if err != nil {
		return err
	}
	fmt.Printf("Evicted %d tiles, cache now %s (limit %s)\n",
		evicted, humanize.Bytes(uint64(total)), humanize.Bytes(uint64(limit)))
	return nil
}
