package instrument

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DBQueries counts statements the engine sent, by resource.
	DBQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restkit_db_queries_total",
		Help: "Statements executed by the resource engine.",
	}, []string{"resource"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "restkit_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restkit_cache_lookups_total",
		Help: "Response cache lookups by outcome.",
	}, []string{"outcome"})
)

// Middleware observes request latency under the matched route pattern, so
// resource ids do not explode label cardinality.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		RequestDuration.
			WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
