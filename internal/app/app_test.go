package app_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/app"
	"github.com/JakeFAU/wikipath/internal/cache"
	"github.com/JakeFAU/wikipath/internal/config"
	localstorage "github.com/JakeFAU/wikipath/internal/storage/local"
	memorystorage "github.com/JakeFAU/wikipath/internal/storage/memory"
	"github.com/JakeFAU/wikipath/internal/storage/postgres"
)

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 3000, SearchLimit: 10},
		Database: config.DatabaseConfig{DSN: "postgres://u:p@127.0.0.1:1/wiki"},
		Upstream: config.UpstreamConfig{
			Endpoint:       "https://en.wikipedia.org/w/api.php",
			UserAgent:      "wikipath-test",
			TimeoutSeconds: 5,
		},
		Links:       config.LinksConfig{Workers: 1, BatchSize: 10},
		Diagnostics: config.DiagnosticsConfig{Provider: "memory", Prefix: "malformed"},
	}
}

func TestNew_BuildsServicesWithoutConnecting(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Store())
	assert.NotNil(t, a.Upstream())
	assert.NotNil(t, a.Dumper())
	assert.IsType(t, &memorystorage.BlobStore{}, a.BlobStore())
	assert.IsType(t, &postgres.ArticleStore{}, a.Searcher(), "no cache configured")
	assert.Equal(t, 3000, a.Config().Server.Port)
}

func TestNew_LocalDiagnostics(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Diagnostics = config.DiagnosticsConfig{Provider: "local", LocalDir: t.TempDir(), Prefix: "malformed"}

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	store, ok := a.BlobStore().(*localstorage.BlobStore)
	require.True(t, ok)
	uri, err := store.PutObject(context.Background(), "malformed/x.json", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	assert.Contains(t, uri, "malformed/x.json")
}

func TestNew_DiagnosticsDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Diagnostics.Provider = "none"

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.BlobStore())
	assert.NotNil(t, a.Dumper())
}

func TestNew_RejectsUnknownDiagnosticsProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Diagnostics.Provider = "s3"

	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown diagnostics provider")
}

func TestNew_RequiresDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Database.DSN = ""

	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "article store init failed")
}

func TestSearcher_UsesCacheWhenConfigured(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache = config.CacheConfig{RedisAddr: "127.0.0.1:1", Prefix: "test:", TTLSeconds: 60}

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &cache.CachedSearcher{}, a.Searcher())
}

func TestStartMetrics_NoAddressIsNoop(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	a.StartMetrics()
	a.Close()
}
