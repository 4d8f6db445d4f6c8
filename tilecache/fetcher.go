package tilecache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/strayfield/tilecache/tilemath"
)

// Fetcher retrieves one tile payload from a remote source.
type Fetcher interface {
	Fetch(ctx context.Context, key tilemath.Key) ([]byte, error)
}

// HTTPFetcher issues GETs against a {z}/{x}/{y} URL template. Any non-2xx
// response is a fetch failure; the body is treated as an opaque payload.
type HTTPFetcher struct {
	client   *fasthttp.Client
	template string
	timeout  time.Duration
}

const fetchUserAgent = "tilecache/1.0 (+https://github.com/strayfield/tilecache)"

func NewHTTPFetcher(template string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		template: template,
		timeout:  timeout,
	}
}

// URL substitutes the tile key into the template.
func (f *HTTPFetcher) URL(key tilemath.Key) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(key.Zoom),
		"{x}", strconv.Itoa(key.X),
		"{y}", strconv.Itoa(key.Y),
	).Replace(f.template)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, key tilemath.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(f.URL(key))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(fetchUserAgent)

	if err := f.client.DoTimeout(req, resp, f.timeout); err != nil {
		return nil, fmt.Errorf("fetch tile %s: %w", key, err)
	}
	if code := resp.StatusCode(); code/100 != 2 {
		return nil, fmt.Errorf("fetch tile %s: tile server returned %d", key, code)
	}

	body := resp.Body()
	data := make([]byte, len(body))
	copy(data, body)
	return data, nil
}
