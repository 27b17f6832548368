package bootstrap_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/bootstrap"
	"github.com/vitaliisemenov/dbsync/internal/config"
	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/registry"
)

func liteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Profile: config.ProfileLite,
		Storage: config.StorageConfig{
			Backend:    config.StorageBackendSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "dbsync.db"),
		},
		Server: config.ServerConfig{Port: 8080, Host: "127.0.0.1"},
		Log:    config.LogConfig{Level: "info"},
		App:    config.AppConfig{Name: "dbsync"},
		Push:   config.PushConfig{RateLimiting: config.RateLimitingConfig{}},
	}
}

func TestBuildWithLiteProfileNeedsNoRedis(t *testing.T) {
	reg := registry.New()
	reg.Install(registry.Schema{Name: "Customer", TableName: "customers", PrimaryKey: "id"})

	app, err := bootstrap.Build(context.Background(), liteConfig(t), reg, extension.NewRegistry(), nil)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Redis)
	assert.NotNil(t, app.Router)

	ok, err := hasContentType(app, reg)
	require.NoError(t, err)
	assert.True(t, ok)
}

func hasContentType(app *bootstrap.App, reg *registry.Registry) (bool, error) {
	schema, ok := reg.ByName("Customer")
	if !ok {
		return false, nil
	}
	_, found, err := app.Store.ContentTypeByID(context.Background(), schema.ContentType)
	return found, err
}
