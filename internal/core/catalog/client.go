package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client Woolworths UI API 客戶端
type Client struct {
	http    *resty.Client
	timeout time.Duration
	limiter *rate.Limiter
	session sessionHolder
	now     func() time.Time
}

// wireProduct API 回傳的商品欄位
type wireProduct struct {
	Stockcode       int64    `json:"Stockcode"`
	Name            string   `json:"Name"`
	DisplayName     string   `json:"DisplayName"`
	Price           *float64 `json:"Price"`
	IsAvailable     *bool    `json:"IsAvailable"`
	IsInStock       *bool    `json:"IsInStock"`
	Brand           string   `json:"Brand"`
	PackageSize     string   `json:"PackageSize"`
	MediumImageFile string   `json:"MediumImageFile"`
	CupString       string   `json:"CupString"`
}

// 商品詳情可能包在 Product 欄位裡
type wireLookup struct {
	wireProduct
	Product *wireProduct `json:"Product"`
}

// 搜尋結果以 bundle 分組
type wireSearch struct {
	Products []struct {
		Products []wireProduct `json:"Products"`
	} `json:"Products"`
}

// NewClient 創建目錄客戶端
func NewClient(cfg config.CatalogConfig) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetHeader("Accept-Language", "en-AU,en;q=0.9")

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		http:    client,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
	if session := sessionFromConfig(cfg, c.now()); session != nil {
		c.SetSession(session)
	}
	return c
}

// SetSession 設定登入 session，傳 nil 清除
func (c *Client) SetSession(s *Session) {
	c.session.set(s)
}

// Lookup 以商品代碼查詢即時狀態
func (c *Client) Lookup(ctx context.Context, stockcode int64) (*ProductSnapshot, error) {
	start := time.Now()
	snapshot, err := c.lookup(ctx, stockcode)
	common.LogCatalogCall("lookup", time.Since(start), err, zap.Int64("stockcode", stockcode))
	return snapshot, err
}

func (c *Client) lookup(ctx context.Context, stockcode int64) (*ProductSnapshot, error) {
	if stockcode <= 0 {
		return nil, fmt.Errorf("%w: stockcode %d", ErrProductNotFound, stockcode)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetCookies(c.session.cookies(c.now())).
		SetPathParam("stockcode", strconv.FormatInt(stockcode, 10)).
		Get("/products/{stockcode}")
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %d: %w", ErrCatalogUnavailable, stockcode, err)
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusNotFound, status == http.StatusGone, status == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: stockcode %d", ErrProductNotFound, stockcode)
	case status != http.StatusOK:
		return nil, fmt.Errorf("%w: lookup %d returned status %d", ErrCatalogUnavailable, stockcode, status)
	}

	body := strings.TrimSpace(resp.String())
	if body == "" || body == "null" {
		return nil, fmt.Errorf("%w: stockcode %d", ErrProductNotFound, stockcode)
	}

	var result wireLookup
	if err := common.ParseJSONBytes(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse product %d: %w", ErrCatalogUnavailable, stockcode, err)
	}

	product := result.wireProduct
	if result.Product != nil {
		product = *result.Product
	}
	if product.Name == "" && product.DisplayName == "" {
		return nil, fmt.Errorf("%w: stockcode %d", ErrProductNotFound, stockcode)
	}
	if product.Stockcode == 0 {
		product.Stockcode = stockcode
	}

	snapshot := product.snapshot()
	return &snapshot, nil
}

// Search 關鍵字搜尋，回傳 API 的原始順序
func (c *Client) Search(ctx context.Context, term string, limit int) ([]ProductSnapshot, error) {
	start := time.Now()
	products, err := c.search(ctx, term, limit)
	common.LogCatalogCall("search", time.Since(start), err,
		zap.String("term", term),
		zap.Int("results", len(products)),
	)
	return products, err
}

func (c *Client) search(ctx context.Context, term string, limit int) ([]ProductSnapshot, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []ProductSnapshot{}, nil
	}
	if limit <= 0 {
		limit = 1
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetCookies(c.session.cookies(c.now())).
		SetQueryParams(map[string]string{
			"searchTerm": term,
			"pageSize":   strconv.Itoa(limit),
		}).
		Get("/Search/products")
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %w", ErrCatalogUnavailable, term, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: search %q returned status %d", ErrCatalogUnavailable, term, resp.StatusCode())
	}

	var result wireSearch
	if err := common.ParseJSONBytes(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse search results: %w", ErrCatalogUnavailable, err)
	}

	products := make([]ProductSnapshot, 0, limit)
	for _, bundle := range result.Products {
		for _, p := range bundle.Products {
			if len(products) == limit {
				return products, nil
			}
			if p.Stockcode <= 0 {
				continue
			}
			products = append(products, p.snapshot())
		}
	}
	return products, nil
}

// Ping 以一次搜尋確認目錄可用
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Search(ctx, "milk", 1)
	return err
}

func (p wireProduct) snapshot() ProductSnapshot {
	s := ProductSnapshot{
		Stockcode:   p.Stockcode,
		Name:        p.Name,
		DisplayName: p.DisplayName,
		InStock:     true,
		Brand:       p.Brand,
		PackageSize: p.PackageSize,
		ImageURL:    p.MediumImageFile,
		CupString:   p.CupString,
	}
	if p.Price != nil {
		s.Price = *p.Price
	}
	if p.IsAvailable != nil && !*p.IsAvailable {
		s.InStock = false
	}
	if p.IsInStock != nil && !*p.IsInStock {
		s.InStock = false
	}
	return s
}
