package stagelinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stagelinesdk "stageline/sdk/go"

	"stageline/internal/domain"
	"stageline/internal/logger"
	"stageline/internal/schema"
	"stageline/internal/server"
	"stageline/internal/store"
)

func TestClientAgainstServer(t *testing.T) {
	kb := store.New(filepath.Join(t.TempDir(), "kb.csv"))
	require.NoError(t, kb.Ensure())
	require.NoError(t, kb.Append(domain.NormalizedRecord{Date: "2024-05-01", Company: "Acme", Product: "Sorter", Confidence: "H"}))
	d, err := schema.New([]string{"entity"}, nil)
	require.NoError(t, err)
	handler, err := server.New(server.Config{Store: kb, Schema: d, Logger: logger.NewLogger(logger.TestConfig())})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := stagelinesdk.New(srv.URL)
	ctx := context.Background()
	require.NoError(t, c.Health(ctx))

	page, err := c.Records(ctx, "acme", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Sorter", page.Items[0].Product)

	stats, err := c.StoreStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ValidRows)

	rep, err := c.Validate(ctx, []string{`{"entity":"Acme"}`, `{"claim":"x"}`})
	require.NoError(t, err)
	assert.False(t, rep.Valid)
	assert.Equal(t, 1, rep.Errors)

	_, err = c.Runs(ctx, "", 10)
	var apiErr *stagelinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}
