// Package catalog 存取 Woolworths 商品目錄
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrProductNotFound 商品代碼不存在（永久性）
	ErrProductNotFound = errors.New("product not found")
	// ErrCatalogUnavailable 目錄暫時無法使用：逾時、5xx、連線失敗或取消
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// ProductSnapshot 查詢當下的商品狀態
type ProductSnapshot struct {
	Stockcode   int64   `json:"stockcode"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	InStock     bool    `json:"in_stock"`
	Brand       string  `json:"brand,omitempty"`
	PackageSize string  `json:"package_size,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	CupString   string  `json:"cup_string,omitempty"`
}

// Title 優先使用顯示名稱
func (p *ProductSnapshot) Title() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// Gateway 商品目錄介面
type Gateway interface {
	Lookup(ctx context.Context, stockcode int64) (*ProductSnapshot, error)
	Search(ctx context.Context, term string, limit int) ([]ProductSnapshot, error)
}
