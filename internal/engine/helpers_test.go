package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"restkit/internal/metadata"
)

func loadRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	models, err := metadata.LoadDir("testdata")
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	require.NoError(t, reg.Load(models))
	return reg
}

func mustSearch(t *testing.T, params map[string]string) *SearchHelper {
	t.Helper()
	s, err := NewSearchHelper(params, metadata.Defaults{With: WithNone})
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	require.Error(t, err)
	var appErr *AppError
	require.True(t, errors.As(err, &appErr), "expected *AppError, got %T: %v", err, err)
	require.Equal(t, code, appErr.Code)
	require.Equal(t, status, appErr.Status)
}
