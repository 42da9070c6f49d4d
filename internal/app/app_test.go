package app

import (
	"context"
	"path/filepath"
	"testing"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/catalog/catalogtest"
	"woolies-preferences/internal/core/resolution"
	"woolies-preferences/internal/infrastructure/config"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, catalogURL string, overrides map[string]interface{}) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("store.driver", config.DriverMemory)
	v.Set("catalog.base_url", catalogURL)
	v.Set("catalog.timeout", "2s")
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	srv := catalogtest.NewServer(catalog.ProductSnapshot{
		Stockcode: 123456, DisplayName: "RSPCA Chicken Breast Fillets 500g", Price: 11, InStock: true,
	})
	defer srv.Close()

	a, err := New(context.Background(), testConfig(t, srv.URL, nil))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	reply, err := a.Manager.SetPrimary(ctx, "", "Chicken Breasts", 123456)
	require.NoError(t, err)
	assert.Equal(t, "chicken breast", reply.Preference.Key)

	res, err := a.Engine.Resolve(ctx, "default", "chicken breast")
	require.NoError(t, err)
	require.True(t, res.IsHit())
	assert.Equal(t, int64(123456), res.Hit.Stockcode)

	status := a.Pool.Status()
	assert.Equal(t, a.Config.Resolution.Workers, status.Workers)
	assert.False(t, status.Closed)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["woolies_resolution_results_total"])
}

func TestNew_SQLiteDriver(t *testing.T) {
	srv := catalogtest.NewServer()
	defer srv.Close()

	cfg := testConfig(t, srv.URL, map[string]interface{}{
		"store.driver": config.DriverSQLite,
		"store.dsn":    filepath.Join(t.TempDir(), "prefs.db"),
	})
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, a.Store.Ping(context.Background()))
	assert.NoError(t, a.Close())
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestClose_StopsPool(t *testing.T) {
	srv := catalogtest.NewServer()
	defer srv.Close()

	a, err := New(context.Background(), testConfig(t, srv.URL, nil))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.True(t, a.Pool.Status().Closed)
	_, err = a.Pool.Submit(context.Background(), "default", "milk")
	assert.ErrorIs(t, err, resolution.ErrPoolClosed)
}
