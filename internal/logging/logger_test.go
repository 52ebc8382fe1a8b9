package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Format: "json", Output: &buf})

	l.Info("hidden")
	l.Warn("shown", "resource", "employees")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "employees", entry["resource"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := NewLogger(Config{})
	assert.Same(t, l, FromContext(WithLogger(context.Background(), l)))
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(Config{Format: "json", Output: &buf})

	app := fiber.New()
	app.Use(Middleware(base))
	app.Get("/", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		FromContext(ctx).Info("handled")
		return c.SendString(GetRequestID(ctx))
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-42", entry["request_id"])
}
