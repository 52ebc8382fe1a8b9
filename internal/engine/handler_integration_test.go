//go:build integration

package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"restkit/internal/config"
	"restkit/internal/response"
	"restkit/internal/store"
)

func postgresStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("restkit"),
		postgres.WithUsername("restkit"),
		postgres.WithPassword("restkit"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	s, err := store.New(ctx, config.DatabaseConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "restkit",
		Password: "restkit",
		Name:     "restkit",
		PoolSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPostgresRoundTrip(t *testing.T) {
	app := newApp(t, postgresStore(t), response.FormatActiveModel)
	seedCompany(t, app)

	res := call(t, app, "GET", "/api/employees?with=department,task&department_id=1&limit=10", nil, "")
	require.Equal(t, 200, res.Status)
	assert.Len(t, list(t, res.Body["employees"]), 2)
	assert.Len(t, list(t, res.Body["departments"]), 1)
	assert.Equal(t, float64(5), object(t, res.Body["meta"])["database_query_count"])

	scoped := call(t, app, "GET", "/api/employees", nil, "1:staff")
	require.Equal(t, 200, scoped.Status)
	assert.Len(t, list(t, scoped.Body["employees"]), 2)

	dup := call(t, app, "POST", "/api/people", map[string]any{"email": "ada@acme.test"}, "")
	assert.Equal(t, 409, dup.Status)
	assert.Equal(t, "DUPLICATE_KEY", dup.errorCode())

	updated := call(t, app, "PUT", "/api/employees/2", map[string]any{"title": "Director", "last_name": "Builder"}, "")
	require.Equal(t, 200, updated.Status)
	emp := object(t, updated.Body["employee"])
	assert.Equal(t, "Director", emp["title"])
	assert.Equal(t, "Builder", emp["last_name"])

	require.Equal(t, 200, call(t, app, "DELETE", "/api/employees/2", nil, "").Status)
	assert.Equal(t, 404, call(t, app, "GET", "/api/people/2", nil, "").Status)
}
