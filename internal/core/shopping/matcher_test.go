package shopping

import (
	"context"
	"testing"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/resolution"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMatcher_Match(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _, cat := newTestManager(t)
	ctx := context.Background()
	_, err := m.SetPrimary(ctx, "default", "greek yogurt", 571487)
	require.NoError(t, err)

	cat.search["tomatoes"] = []catalog.ProductSnapshot{
		{Stockcode: 1, DisplayName: "Truss Tomatoes", Price: 2, InStock: false},
		{Stockcode: 2, DisplayName: "Roma Tomatoes", Price: 1.5, InStock: true, CupString: "$6.00 / 1KG"},
	}

	store := m.store
	pool := resolution.NewPool(resolution.NewEngine(store, cat, testConfig(), nil), testConfig())
	defer pool.Close()
	matcher := NewMatcher(pool, cat, 3)

	report, err := matcher.Match(ctx, "default", []ListItem{
		{IngredientText: "Greek Yogurt", QuantityText: "500g", Category: "Dairy"},
		{IngredientText: "tomatoes", QuantityText: "4"},
		{IngredientText: "dragon fruit", QuantityText: "1"},
		{IngredientText: "  "},
	})
	require.NoError(t, err)

	require.Len(t, report.Matched, 2)
	assert.Equal(t, SourcePreferred, report.Matched[0].Source)
	assert.Equal(t, int64(571487), report.Matched[0].Stockcode)
	assert.Equal(t, "Primary", report.Matched[0].Tier.String())
	assert.Equal(t, SourceSearch, report.Matched[1].Source)
	assert.Equal(t, int64(2), report.Matched[1].Stockcode, "first in-stock result")
	assert.Equal(t, string(resolution.NoPreference), report.Matched[1].Deferred)

	require.Len(t, report.Unmatched, 2)
	assert.Equal(t, "dragon fruit", report.Unmatched[0].Ingredient)
	assert.Equal(t, "no product found", report.Unmatched[0].Reason)
	assert.Equal(t, string(resolution.InvalidIngredient), report.Unmatched[1].Reason)

	assert.Equal(t, 4, report.TotalItems)
	assert.Equal(t, 2, report.TotalMatched)
	assert.InDelta(t, 11.0, report.EstimatedCost, 0.001)
	assert.InDelta(t, 50.0, report.MatchRate, 0.001)
}

func TestMatcher_SearchOutage(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _, cat := newTestManager(t)
	pool := resolution.NewPool(resolution.NewEngine(m.store, cat, testConfig(), nil), testConfig())
	defer pool.Close()
	cat.unavailable = true

	report, err := NewMatcher(pool, cat, 0).Match(context.Background(), "default", []ListItem{{IngredientText: "milk"}})
	require.NoError(t, err)
	assert.Empty(t, report.Matched)
	require.Len(t, report.Unmatched, 1)
	assert.Equal(t, "catalog search failed", report.Unmatched[0].Reason)
	assert.Zero(t, report.MatchRate)
}

func TestMatcher_EmptyList(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _, cat := newTestManager(t)
	pool := resolution.NewPool(resolution.NewEngine(m.store, cat, testConfig(), nil), testConfig())
	defer pool.Close()

	report, err := NewMatcher(pool, cat, 3).Match(context.Background(), "default", nil)
	require.NoError(t, err)
	assert.Zero(t, report.TotalItems)
	assert.Zero(t, report.MatchRate)
}
