package catalog

import (
	"context"
	"net/http"
	"testing"
	"time"

	"woolies-preferences/internal/infrastructure/config"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://www.woolworths.com.au/apis/ui"

func newTestClient(t *testing.T, cfg config.CatalogConfig) (*Client, *httpmock.MockTransport) {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	cfg.UserAgent = "test-agent"

	c := NewClient(cfg)
	transport := httpmock.NewMockTransport()
	c.http.SetTransport(transport)
	return c, transport
}

func TestClient_Lookup(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	transport.RegisterResponder(http.MethodGet, testBase+"/products/571487",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "test-agent", req.Header.Get("User-Agent"))
			return httpmock.NewStringResponse(http.StatusOK, `{
				"Stockcode": 571487,
				"Name": "Chobani Greek Yogurt Plain",
				"DisplayName": "Chobani Greek Yogurt Plain 907g",
				"Price": 9.5,
				"IsAvailable": true,
				"Brand": "Chobani",
				"PackageSize": "907g",
				"MediumImageFile": "https://cdn0.woolworths.media/571487.jpg",
				"CupString": "$1.05 / 100G"
			}`), nil
		})

	p, err := c.Lookup(context.Background(), 571487)
	require.NoError(t, err)
	assert.Equal(t, int64(571487), p.Stockcode)
	assert.Equal(t, "Chobani Greek Yogurt Plain 907g", p.Title())
	assert.InDelta(t, 9.5, p.Price, 0.001)
	assert.True(t, p.InStock)
	assert.Equal(t, "907g", p.PackageSize)
	assert.Equal(t, "$1.05 / 100G", p.CupString)
}

func TestClient_LookupWrappedAndOutOfStock(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	transport.RegisterResponder(http.MethodGet, testBase+"/products/123456",
		httpmock.NewStringResponder(http.StatusOK, `{"Product": {"Name": "Greek Style Yoghurt", "Price": null, "IsAvailable": false}}`))

	p, err := c.Lookup(context.Background(), 123456)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), p.Stockcode)
	assert.False(t, p.InStock)
	assert.Zero(t, p.Price)
}

func TestClient_LookupNotFound(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	transport.RegisterResponder(http.MethodGet, testBase+"/products/1",
		httpmock.NewStringResponder(http.StatusNotFound, ``))
	transport.RegisterResponder(http.MethodGet, testBase+"/products/2",
		httpmock.NewStringResponder(http.StatusOK, `null`))

	for _, code := range []int64{1, 2, 0, -5} {
		_, err := c.Lookup(context.Background(), code)
		assert.ErrorIs(t, err, ErrProductNotFound, "stockcode %d", code)
		assert.NotErrorIs(t, err, ErrCatalogUnavailable)
	}
}

func TestClient_LookupUnavailable(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	transport.RegisterResponder(http.MethodGet, testBase+"/products/500",
		httpmock.NewStringResponder(http.StatusBadGateway, `upstream`))
	transport.RegisterResponder(http.MethodGet, testBase+"/products/501",
		httpmock.NewErrorResponder(assert.AnError))
	transport.RegisterResponder(http.MethodGet, testBase+"/products/502",
		httpmock.NewStringResponder(http.StatusOK, `{not json`))

	for _, code := range []int64{500, 501, 502} {
		_, err := c.Lookup(context.Background(), code)
		assert.ErrorIs(t, err, ErrCatalogUnavailable, "stockcode %d", code)
		assert.NotErrorIs(t, err, ErrProductNotFound)
	}
}

func TestClient_LookupTimeout(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{Timeout: 50 * time.Millisecond})
	transport.RegisterResponder(http.MethodGet, testBase+"/products/42",
		func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	start := time.Now()
	_, err := c.Lookup(context.Background(), 42)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_LookupCancelled(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	transport.RegisterResponder(http.MethodGet, testBase+"/products/42",
		httpmock.NewStringResponder(http.StatusOK, `{"Name": "x"}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Lookup(ctx, 42)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Search(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	transport.RegisterResponder(http.MethodGet, testBase+"/Search/products",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "greek yogurt", req.URL.Query().Get("searchTerm"))
			assert.Equal(t, "2", req.URL.Query().Get("pageSize"))
			return httpmock.NewStringResponse(http.StatusOK, `{
				"Products": [
					{"Products": [{"Stockcode": 11, "Name": "A", "Price": 1.5, "IsAvailable": false}]},
					{"Products": [{"Stockcode": 22, "Name": "B", "Price": 2}, {"Stockcode": 33, "Name": "C"}]}
				]
			}`), nil
		})

	products, err := c.Search(context.Background(), "  greek yogurt ", 2)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, int64(11), products[0].Stockcode)
	assert.False(t, products[0].InStock)
	assert.Equal(t, int64(22), products[1].Stockcode)
}

func TestClient_SearchEmptyTerm(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	products, err := c.Search(context.Background(), "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestClient_SearchUnavailable(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	transport.RegisterResponder(http.MethodGet, testBase+"/Search/products",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ``))

	_, err := c.Search(context.Background(), "milk", 3)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}

func TestClient_Session(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{})
	var seen []string
	transport.RegisterResponder(http.MethodGet, testBase+"/products/7",
		func(req *http.Request) (*http.Response, error) {
			if cookie, err := req.Cookie("w-session"); err == nil {
				seen = append(seen, cookie.Value)
			} else {
				seen = append(seen, "")
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"Name": "Bread"}`), nil
		})

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Lookup(context.Background(), 7)
	require.NoError(t, err)

	c.SetSession(&Session{Cookies: map[string]string{"w-session": "abc"}, ExpiresAt: now.Add(time.Hour)})
	_, err = c.Lookup(context.Background(), 7)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = c.Lookup(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "abc", ""}, seen)
}

func TestClient_SessionFromConfig(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{SessionCookie: "w-session=abc; bm_sz=xyz", SessionTTL: time.Hour})
	var header string
	transport.RegisterResponder(http.MethodGet, testBase+"/products/7",
		func(req *http.Request) (*http.Response, error) {
			cookie, err := req.Cookie("w-session")
			if err == nil {
				header = cookie.Value
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"Name": "Bread"}`), nil
		})

	_, err := c.Lookup(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "abc", header)

	assert.Nil(t, sessionFromConfig(config.CatalogConfig{}, time.Now()))
	assert.Nil(t, sessionFromConfig(config.CatalogConfig{SessionCookie: "garbage"}, time.Now()))
}

func TestClient_RateLimitRespectsDeadline(t *testing.T) {
	c, transport := newTestClient(t, config.CatalogConfig{RatePerSecond: 0.1, Burst: 1})
	transport.RegisterResponder(http.MethodGet, testBase+"/products/7",
		httpmock.NewStringResponder(http.StatusOK, `{"Name": "Bread"}`))

	_, err := c.Lookup(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Lookup(ctx, 7)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}
