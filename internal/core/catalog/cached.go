package catalog

import "context"

// CachedGateway 只快取搜尋結果，Lookup 一律查詢即時庫存
type CachedGateway struct {
	next  Gateway
	cache *SearchCache
}

// NewCachedGateway cache 為 nil 時直接轉發
func NewCachedGateway(next Gateway, cache *SearchCache) *CachedGateway {
	return &CachedGateway{next: next, cache: cache}
}

func (g *CachedGateway) Lookup(ctx context.Context, stockcode int64) (*ProductSnapshot, error) {
	return g.next.Lookup(ctx, stockcode)
}

func (g *CachedGateway) Search(ctx context.Context, term string, limit int) ([]ProductSnapshot, error) {
	if g.cache == nil {
		return g.next.Search(ctx, term, limit)
	}
	if products, ok := g.cache.Get(term, limit); ok {
		return products, nil
	}

	products, err := g.next.Search(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	g.cache.Set(term, limit, products)
	return products, nil
}

// Stats 快取統計，未啟用時回傳 nil
func (g *CachedGateway) Stats() *CacheStats {
	if g.cache == nil {
		return nil
	}
	stats := g.cache.Stats()
	return &stats
}

// Close 關閉快取
func (g *CachedGateway) Close() error {
	if g.cache == nil {
		return nil
	}
	return g.cache.Close()
}
