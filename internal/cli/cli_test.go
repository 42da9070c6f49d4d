package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"woolies-preferences/internal/app"
	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/catalog/catalogtest"
	"woolies-preferences/internal/core/preference"
	"woolies-preferences/internal/infrastructure/config"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliEnv struct {
	catalog *catalogtest.Server
	store   *preference.MemoryStore
	open    Opener
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	srv := catalogtest.NewServer(
		catalog.ProductSnapshot{Stockcode: 123456, DisplayName: "RSPCA Chicken Breast Fillets 500g", Price: 11, InStock: true},
		catalog.ProductSnapshot{Stockcode: 888, DisplayName: "a2 Full Cream Milk 2L", Price: 5.5, InStock: true},
		catalog.ProductSnapshot{Stockcode: 999, DisplayName: "Dairy Farmers Full Cream Milk 2L", Price: 4.8, InStock: true},
	)
	t.Cleanup(srv.Close)

	v := viper.New()
	v.Set("store.driver", config.DriverMemory)
	v.Set("catalog.base_url", srv.URL)
	v.Set("cache.enabled", false)
	cfg, err := config.Load(v)
	require.NoError(t, err)

	// 同一個儲存跨多次執行，模擬持久化
	store := preference.NewMemoryStore()
	return &cliEnv{
		catalog: srv,
		store:   store,
		open: func(ctx context.Context) (*app.App, error) {
			return app.Assemble(cfg, store, srv.CatalogClient()), nil
		},
	}
}

func (e *cliEnv) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(e.open, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestSetAndList(t *testing.T) {
	env := newCLIEnv(t)

	code, out, errOut := env.run("set", "Chicken Breasts", "123456")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Equal(t, "saved RSPCA Chicken Breast Fillets 500g for Chicken Breasts with 0 fallback(s)\n", out)

	code, out, _ = env.run("list")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Chicken Breasts: RSPCA Chicken Breast Fillets 500g (123456) used 0 time(s)\n", out)

	code, out, _ = env.run("list", "--json")
	require.Equal(t, ExitSuccess, code)
	var records []preference.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "chicken breast", records[0].Key)
	assert.Equal(t, "default", records[0].UserID)
}

func TestFallbacksAndResolve(t *testing.T) {
	env := newCLIEnv(t)

	code, _, errOut := env.run("set", "milk", "888", "--user", "alice")
	require.Equal(t, ExitSuccess, code, errOut)

	code, out, errOut := env.run("fallbacks", "milk", "999", "-u", "alice")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Equal(t, "saved with 1 fallback(s)\n", out)

	code, out, _ = env.run("add-fallback", "milk", "999", "-u", "alice")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "999 is already a fallback for milk\n", out)

	env.catalog.Put(catalog.ProductSnapshot{Stockcode: 888, DisplayName: "a2 Full Cream Milk 2L", Price: 5.5, InStock: false})

	code, out, _ = env.run("resolve", "Milk", "bread", "-u", "alice")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t,
		"Milk: Dairy Farmers Full Cream Milk 2L (999) $4.80 [Fallback(1)]\nbread: deferred (NO_PREFERENCE)\n",
		out)

	code, out, _ = env.run("list", "-u", "alice")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "milk: a2 Full Cream Milk 2L (888) fallbacks 999 used 1 time(s)\n", out)

	// 其他使用者不受影響
	code, out, _ = env.run("list")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "no preferences saved\n", out)
}

func TestRemove(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("set", "milk", "999")
	require.Equal(t, ExitSuccess, code)

	code, out, _ := env.run("remove", "MILK")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "removed MILK\n", out)

	code, out, _ = env.run("remove", "milk")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "nothing to remove for milk\n", out)
}

func TestMatch(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run("set", "chicken breast", "123456")
	require.Equal(t, ExitSuccess, code)

	path := filepath.Join(t.TempDir(), "list.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"items":[
		{"ingredient_text":"Chicken Breasts","quantity_text":"500g"},
		{"ingredient_text":"full cream milk","quantity_text":"2L"},
		{"ingredient_text":"saffron"}
	]}`), 0o600))

	code, out, errOut := env.run("match", path)
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Equal(t, "Chicken Breasts: RSPCA Chicken Breast Fillets 500g (123456) $11.00 [preferred]\n"+
		"full cream milk: a2 Full Cream Milk 2L (888) $5.50 [search]\n"+
		"saffron: unmatched (no product found)\n"+
		"matched 2 of 3, estimated $16.50\n", out)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"items":[],"extra":1}`), 0o600))
	code, _, errOut = env.run("match", bad)
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "invalid shopping list")
}

func TestErrors(t *testing.T) {
	env := newCLIEnv(t)

	code, _, errOut := env.run("set", "milk", "abc")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, `invalid stockcode "abc"`)

	code, _, _ = env.run("set", "milk")
	assert.Equal(t, ExitUsage, code)

	code, _, errOut = env.run("set", "milk", "5555")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "no such stockcode 5555")

	code, _, errOut = env.run("fallbacks", "bread", "999")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "no preference set for bread")
}

func TestOpenFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	open := func(ctx context.Context) (*app.App, error) {
		return nil, errors.New("database is locked")
	}
	code := run(open, []string{"list"}, &stdout, &stderr)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr.String(), "database is locked")
}
