package instrument

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareObservesRoutePattern(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware())
	app.Get("/api/:resource/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Get("/metrics", Handler())

	for _, id := range []string{"1", "2", "3"} {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/tasks/"+id, nil), -1)
		require.NoError(t, err)
		resp.Body.Close()
	}

	DBQueries.WithLabelValues("task").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(DBQueries.WithLabelValues("task")))

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `restkit_request_duration_seconds_count{method="GET",route="/api/:resource/:id",status="204"} 3`)
	assert.Contains(t, string(body), `restkit_db_queries_total{resource="task"} 1`)
}
