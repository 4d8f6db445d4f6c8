package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/strayfield/tilecache/internal/telemetry"
	"github.com/strayfield/tilecache/prefetch"
	"github.com/strayfield/tilecache/server"
	"github.com/strayfield/tilecache/tilecache"
)

func serve(ctx *cli.Context) error {
	runCtx, cancel := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := telemetry.Setup(runCtx, "tilecache", ctx.String("otlp.endpoint"))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if client != nil {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := client.Flush(flushCtx); err != nil {
				slog.Error("telemetry flush failed", "error", err.Error())
			}
			client.Shutdown(flushCtx)
		}()
	}

	cfg := tilecache.DefaultConfig()
	store, err := openCache(ctx.String("folder"), ctx.String("url"), cfg)
	if err != nil {
		return err
	}
	planner := prefetch.NewPlanner(store, cfg.FetchConcurrency, slog.Default())

	return server.Run(runCtx, ctx.String("listen"), store, planner)
}

// fileTrackSource reads a recorded GPS track from a JSON file, standing in
// for the live track collaborator when driven from the command line.
type fileTrackSource struct {
	points []prefetch.TrackPoint
}

func newFileTrackSource(path string) (*fileTrackSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track file: %w", err)
	}
	var points []prefetch.TrackPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("parse track file: %w", err)
	}
	return &fileTrackSource{points: points}, nil
}

func (s *fileTrackSource) RecentPoints(_ context.Context, n int) ([]prefetch.TrackPoint, error) {
	if len(s.points) <= n {
		return s.points, nil
	}
	return s.points[len(s.points)-n:], nil
}
