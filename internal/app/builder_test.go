package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/feedsync/internal/config"
	syncmocks "github.com/stacklok/feedsync/internal/sync/mocks"
	"github.com/stacklok/feedsync/internal/sync/state"
)

func createValidTestConfig() *config.Config {
	return &config.Config{
		Sources: []config.SourceConfig{
			{
				ID: "alpha",
				Strategies: []config.StrategyConfig{
					{Type: config.StrategyTypeFeed, URL: "https://example.com/feed.xml"},
				},
			},
		},
		Schedule: &config.ScheduleConfig{
			Interval:     "1h",
			InitialDelay: "1h",
		},
	}
}

func TestBaseConfig(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()))
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Greater(t, built.writeTimeout, built.requestTimeout)
}

func TestBaseConfig_RequiresConfig(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithAddress(":9090"))
	require.Error(t, err)
	assert.Nil(t, built)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "port only", address: ":9090"},
		{name: "localhost", address: "localhost:8080"},
		{name: "ipv4", address: "127.0.0.1:0"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: ":", wantErr: true},
		{name: "no colon", address: "8080", wantErr: true},
		{name: "bad port", address: ":http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := baseConfig(WithConfig(createValidTestConfig()), WithAddress(tt.address))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, built.address)
		})
	}
}

func TestWithDataDirectory_DoesNotMutateConfig(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig()
	cfg.Storage = &config.StorageConfig{Type: config.StorageTypeSQLite, DataDir: "/original"}

	built, err := baseConfig(WithConfig(cfg), WithDataDirectory("/override"))
	require.NoError(t, err)

	assert.Equal(t, "/override", built.config.GetDataDir())
	assert.Equal(t, config.StorageTypeSQLite, built.config.GetStorageType())
	assert.Equal(t, "/original", cfg.GetDataDir())
}

func TestNewComponents_FileStorage(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dir := t.TempDir()

	components, err := NewComponents(context.Background(),
		WithConfig(createValidTestConfig()),
		WithDataDirectory(dir),
		WithSyncManager(syncmocks.NewMockManager(ctrl)),
	)
	require.NoError(t, err)

	assert.NotNil(t, components.Coordinator)
	assert.NotNil(t, components.Store)
	assert.NotNil(t, components.Telemetry)
	assert.Len(t, components.Catalog.Enabled(), 1)

	lock, err := components.Store.Lock(context.Background())
	require.NoError(t, err)
	assert.False(t, lock.Held)

	_, err = os.Stat(filepath.Join(dir, state.StateDirName))
	assert.NoError(t, err)

	require.NoError(t, components.Close(context.Background()))
}

func TestNewComponents_DefaultSyncManager(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig()
	cfg.Fetch = &config.FetchConfig{RateLimit: 2, MaxAttempts: 1, UserAgent: "feedsync-test"}

	components, err := NewComponents(context.Background(),
		WithConfig(cfg),
		WithDataDirectory(t.TempDir()),
	)
	require.NoError(t, err)
	assert.NotNil(t, components.Coordinator)
	require.NoError(t, components.Close(context.Background()))
}

func TestNewComponents_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name: "unsupported storage",
			mutate: func(c *config.Config) {
				c.Storage = &config.StorageConfig{Type: "tape"}
			},
		},
		{
			name: "duplicate source",
			mutate: func(c *config.Config) {
				c.Sources = append(c.Sources, c.Sources[0])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := createValidTestConfig()
			tt.mutate(cfg)

			components, err := NewComponents(context.Background(),
				WithConfig(cfg),
				WithDataDirectory(t.TempDir()),
			)
			require.Error(t, err)
			assert.Nil(t, components)
		})
	}
}
