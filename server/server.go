// Package server exposes the tile cache to an offline-capable map view over
// HTTP: tiles by z/x/y, a prefetch trigger, and prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/strayfield/tilecache/prefetch"
	"github.com/strayfield/tilecache/tilecache"
	"github.com/strayfield/tilecache/tilemath"
)

const maxBodySize = 1 * 1000 * 1000 // 1MB, prefetch requests are tiny

var meter = otel.Meter("github.com/strayfield/tilecache/server")

// Run serves tiles until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, address string, store *tilecache.Store, planner *prefetch.Planner) error {
	log := slog.Default()

	metricTileCallCount, err := meter.Int64Counter("http_tile_call_total")
	if err != nil {
		return err
	}
	metricPrefetchCallCount, err := meter.Int64Counter("http_prefetch_call_total")
	if err != nil {
		return err
	}

	s := &server{
		store:   store,
		planner: planner,
		log:     log,

		metricTileCallCount:     metricTileCallCount,
		metricPrefetchCallCount: metricPrefetchCallCount,
	}

	r := router.New()
	r.GET("/tiles/{z}/{x}/{y}", s.TileHandler)
	r.POST("/prefetch", s.PrefetchHandler)
	r.Handle(http.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	srv := &fasthttp.Server{
		ReadTimeout:        time.Second,
		MaxRequestBodySize: maxBodySize,
		Handler:            r.Handler,
	}

	go func() {
		log.Info("Server listening", "address", address)
		if err := srv.ListenAndServe(address); err != http.ErrServerClosed {
			stdlog.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	// wait cancel
	<-ctx.Done()
	if err := store.FlushIndex(); err != nil {
		log.Error("tile index flush on shutdown failed", "error", err.Error())
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}

type server struct {
	store   *tilecache.Store
	planner *prefetch.Planner
	log     *slog.Logger

	metricTileCallCount     metric.Int64Counter
	metricPrefetchCallCount metric.Int64Counter
}

func (s *server) TileHandler(ctx *fasthttp.RequestCtx) {
	s.metricTileCallCount.Add(ctx, 1)

	z, err1 := strconv.Atoi(ctx.UserValue("z").(string))
	x, err2 := strconv.Atoi(ctx.UserValue("x").(string))
	y, err3 := strconv.Atoi(ctx.UserValue("y").(string))
	if err1 != nil || err2 != nil || err3 != nil || z < 0 || z > 30 {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		return
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		return
	}

	data, err := s.store.GetTile(ctx, tilemath.Key{Zoom: z, X: x, Y: y})
	if err != nil {
		if errors.Is(err, tilecache.ErrNotAvailable) {
			ctx.Response.SetStatusCode(http.StatusNotFound)
			return
		}
		s.log.Error("tile request failed", "error", err.Error())
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}

	ctx.Response.Header.SetContentType("image/png")
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(data)
}

type prefetchRequest struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
	Zoom   int     `json:"zoom"`
}

func (s *server) PrefetchHandler(ctx *fasthttp.RequestCtx) {
	s.metricPrefetchCallCount.Add(ctx, 1)

	var req prefetchRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString("failed to parse request: " + err.Error())
		return
	}

	bound, err := tilemath.BoundFromEdges(req.MinLat, req.MinLon, req.MaxLat, req.MaxLon)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusBadRequest)
		ctx.Response.SetBodyString(err.Error())
		return
	}
	if req.Zoom <= 0 {
		req.Zoom = tilecache.DefaultConfig().Zoom
	}

	summary, err := s.planner.Prefetch(ctx, bound, req.Zoom, nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		ctx.Response.SetBodyString(fmt.Sprintf("prefetch failed: %v", err))
		return
	}

	out, err := json.Marshal(summary)
	if err != nil {
		ctx.Response.SetStatusCode(http.StatusInternalServerError)
		return
	}
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.SetBody(out)
}
