package shopping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/preference"
	"woolies-preferences/internal/core/resolution"
	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCatalog 以 map 模擬目錄
type stubCatalog struct {
	mu          sync.Mutex
	products    map[int64]catalog.ProductSnapshot
	search      map[string][]catalog.ProductSnapshot
	unavailable bool
	lookups     int
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		products: map[int64]catalog.ProductSnapshot{
			571487: {Stockcode: 571487, DisplayName: "Chobani Greek Yogurt Plain 907g", Price: 9.5, InStock: true},
			123456: {Stockcode: 123456, DisplayName: "Woolworths Greek Style Yoghurt 1kg", Price: 5, InStock: true},
			654321: {Stockcode: 654321, DisplayName: "Jalna Greek Yoghurt 1kg", Price: 7, InStock: true},
			888140: {Stockcode: 888140, DisplayName: "Woolworths Full Cream Milk 2L", Price: 3.1, InStock: true},
		},
		search: map[string][]catalog.ProductSnapshot{},
	}
}

func (c *stubCatalog) Lookup(ctx context.Context, stockcode int64) (*catalog.ProductSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if c.unavailable {
		return nil, catalog.ErrCatalogUnavailable
	}
	p, ok := c.products[stockcode]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (c *stubCatalog) Search(ctx context.Context, term string, limit int) ([]catalog.ProductSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return nil, catalog.ErrCatalogUnavailable
	}
	products := c.search[term]
	if len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

func testConfig() config.ResolutionConfig {
	return config.ResolutionConfig{Workers: 2, QueueSize: 8, CandidateTimeout: time.Second, MaxBudget: 3 * time.Second}
}

func newTestManager(t *testing.T) (*Manager, preference.Store, *stubCatalog) {
	t.Helper()
	store := preference.NewMemoryStore()
	cat := newStubCatalog()
	engine := resolution.NewEngine(store, cat, testConfig(), nil)
	return NewManager(store, cat, engine, "default"), store, cat
}

func TestManager_SetPrimary(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	reply, err := m.SetPrimary(ctx, "", "Greek Yogurt", 571487)
	require.NoError(t, err)
	assert.Equal(t, "saved Chobani Greek Yogurt Plain 907g for Greek Yogurt with 0 fallback(s)", reply.Message)
	assert.Equal(t, "default", reply.Preference.UserID)

	rec, err := store.Get(ctx, "default", "greek yogurt")
	require.NoError(t, err)
	assert.Equal(t, int64(571487), rec.PrimaryStockcode)
	assert.Equal(t, "Chobani Greek Yogurt Plain 907g", rec.ProductName)
	assert.InDelta(t, 9.5, rec.LastKnownPrice, 0.001)
}

func TestManager_SetPrimaryValidation(t *testing.T) {
	m, store, cat := newTestManager(t)
	ctx := context.Background()

	_, err := m.SetPrimary(ctx, "default", "   ", 571487)
	assert.ErrorIs(t, err, common.ErrInvalidIngredient)

	_, err = m.SetPrimary(ctx, "default", "greek yogurt", 999)
	assert.ErrorIs(t, err, common.ErrUnknownStockcode)
	assert.Equal(t, "no such stockcode 999", err.Error())

	cat.unavailable = true
	_, err = m.SetPrimary(ctx, "default", "greek yogurt", 571487)
	assert.ErrorIs(t, err, common.ErrCatalogUnavailable)

	list, err := store.ListAll(ctx, "default")
	require.NoError(t, err)
	assert.Empty(t, list, "failed validation saves nothing")
}

func TestManager_SetFallbacks(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.SetFallbacks(ctx, "default", "greek yogurt", []int64{123456})
	assert.ErrorIs(t, err, common.ErrNoPreference)
	assert.Equal(t, "no preference set for greek yogurt", err.Error())

	_, err = m.SetPrimary(ctx, "default", "greek yogurt", 571487)
	require.NoError(t, err)

	reply, err := m.SetFallbacks(ctx, "default", "Greek Yoghurt", []int64{123456, 654321})
	require.NoError(t, err)
	assert.Equal(t, "saved with 2 fallback(s)", reply.Message)
	assert.Equal(t, []int64{123456, 654321}, reply.Preference.FallbackStockcodes)

	_, err = m.SetFallbacks(ctx, "default", "greek yogurt", []int64{123456, 123456})
	assert.ErrorIs(t, err, common.ErrInvalidFallbackList)
	_, err = m.SetFallbacks(ctx, "default", "greek yogurt", []int64{571487})
	assert.ErrorIs(t, err, common.ErrInvalidFallbackList)
	_, err = m.SetFallbacks(ctx, "default", "greek yogurt", []int64{123456, 42})
	assert.ErrorIs(t, err, common.ErrUnknownStockcode)

	list, err := m.ListPreferences(ctx, "default")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []int64{123456, 654321}, list[0].FallbackStockcodes)
}

func TestManager_AddFallback(t *testing.T) {
	m, _, cat := newTestManager(t)
	ctx := context.Background()

	_, err := m.AddFallback(ctx, "default", "greek yogurt", 123456)
	assert.ErrorIs(t, err, common.ErrNoPreference)

	_, err = m.SetPrimary(ctx, "default", "greek yogurt", 571487)
	require.NoError(t, err)

	reply, err := m.AddFallback(ctx, "default", "greek yogurt", 123456)
	require.NoError(t, err)
	assert.Equal(t, "saved with 1 fallback(s)", reply.Message)

	before := cat.lookups
	reply, err = m.AddFallback(ctx, "default", "greek yogurt", 123456)
	require.NoError(t, err)
	assert.Equal(t, "123456 is already a fallback for greek yogurt", reply.Message)
	assert.Equal(t, before, cat.lookups)

	reply, err = m.AddFallback(ctx, "default", "greek yogurt", 571487)
	require.NoError(t, err)
	assert.Contains(t, reply.Message, "already the primary")

	_, err = m.AddFallback(ctx, "default", "greek yogurt", 42)
	assert.ErrorIs(t, err, common.ErrUnknownStockcode)
	_, err = m.AddFallback(ctx, "default", "greek yogurt", -1)
	assert.ErrorIs(t, err, common.ErrInvalidFallbackList)
}

func TestManager_RemovePreference(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.SetPrimary(ctx, "default", "milk", 888140)
	require.NoError(t, err)

	reply, err := m.RemovePreference(ctx, "default", "Milk")
	require.NoError(t, err)
	assert.True(t, reply.Removed)
	assert.Equal(t, "removed Milk", reply.Message)

	reply, err = m.RemovePreference(ctx, "default", "Milk")
	require.NoError(t, err)
	assert.False(t, reply.Removed)
	assert.Equal(t, "nothing to remove for Milk", reply.Message)
}

// brokenStore 寫入一律失敗
type brokenStore struct {
	preference.Store
}

func (brokenStore) Get(ctx context.Context, userID, key string) (*preference.Record, error) {
	return nil, preference.ErrStoreUnavailable
}

func (brokenStore) UpsertPrimary(ctx context.Context, userID, key string, p preference.Primary) (*preference.Record, error) {
	return nil, preference.ErrStoreUnavailable
}

func (brokenStore) ListAll(ctx context.Context, userID string) ([]preference.Record, error) {
	return nil, preference.ErrStoreUnavailable
}

func (brokenStore) Remove(ctx context.Context, userID, key string) (bool, error) {
	return false, preference.ErrStoreUnavailable
}

func TestManager_StoreOutage(t *testing.T) {
	store := brokenStore{Store: preference.NewMemoryStore()}
	cat := newStubCatalog()
	m := NewManager(store, cat, resolution.NewEngine(store, cat, testConfig(), nil), "")
	ctx := context.Background()

	_, err := m.SetPrimary(ctx, "alice", "milk", 888140)
	assert.ErrorIs(t, err, common.ErrStoreDegraded)
	assert.Equal(t, "could not save, try again", err.Error())

	_, err = m.RemovePreference(ctx, "alice", "milk")
	assert.ErrorIs(t, err, common.ErrStoreDegraded)

	_, err = m.ListPreferences(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrStoreDegraded)
	assert.Equal(t, "could not load preferences, try again", err.Error())

	// 讀取失敗時解析改走搜尋
	result, err := m.Resolve(ctx, "alice", "milk")
	require.NoError(t, err)
	assert.Equal(t, resolution.StoreDegraded, result.Deferred)

	var ce *common.CustomError
	_, err = m.SetFallbacks(ctx, "alice", "milk", []int64{1})
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 503, ce.Status)
}

func TestManager_ImportFromCart(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	report, err := m.ImportFromCart(ctx, "", []CartItem{
		{Stockcode: 888140, DisplayName: "Woolworths Full Cream Milk 2L", Price: 3.1},
		{Stockcode: 571487, DisplayName: "Chobani Greek Yogurt Plain 907g"},
		{Stockcode: 42, DisplayName: "Unknown Thing"},
		{Stockcode: 0, DisplayName: "No Code"},
		{Stockcode: 654321, DisplayName: "2 Pack"},
	})
	require.NoError(t, err)

	assert.Equal(t, []ImportedItem{
		{Ingredient: "full cream", Stockcode: 888140},
		{Ingredient: "chobani greek", Stockcode: 571487},
	}, report.Imported)
	assert.Len(t, report.Skipped, 3)
	assert.Equal(t, "imported 2 preference(s), skipped 3", report.Message)

	rec, err := store.Get(ctx, "default", "full cream")
	require.NoError(t, err)
	assert.Equal(t, int64(888140), rec.PrimaryStockcode)
}
