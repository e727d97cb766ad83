package api

import (
	"compress/gzip"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers can
// work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	var err error
	if g.Reader != nil {
		err = g.Reader.Close()
	}
	if g.body != nil {
		if cerr := g.body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

var simulatedOutages = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pulseboard_simulated_outages_total",
	Help: "Number of requests rejected by the outage injection middleware.",
})

// SimulatedOutage rejects a random fraction of API requests with a 503 so
// clients exercise their rollback paths against a realistic failure rate.
// Health and metrics endpoints are never affected. A rate outside (0, 1]
// disables the middleware.
func SimulatedOutage(rate float64, seed int64) echo.MiddlewareFunc {
	rng := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rate <= 0 || rate > 1 {
				return next(c)
			}
			path := c.Request().URL.Path
			if path == "/healthz" || path == "/metrics" {
				return next(c)
			}
			mu.Lock()
			roll := rng.Float64()
			mu.Unlock()
			if roll < rate {
				simulatedOutages.Inc()
				return c.String(http.StatusServiceUnavailable, "simulated outage")
			}
			return next(c)
		}
	}
}
