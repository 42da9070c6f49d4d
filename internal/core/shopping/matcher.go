package shopping

import (
	"context"
	"strings"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/resolution"
	"woolies-preferences/internal/pkg/common"

	"go.uber.org/zap"
)

// 命中來源
const (
	SourcePreferred = "preferred"
	SourceSearch    = "search"
)

// ListItem AI 規劃層產生的購物清單項目
type ListItem struct {
	IngredientText string `json:"ingredient_text" binding:"required"`
	QuantityText   string `json:"quantity_text"`
	Category       string `json:"category,omitempty"`
}

// MatchedItem 已對應到商品的項目
type MatchedItem struct {
	Ingredient  string             `json:"ingredient"`
	Quantity    string             `json:"quantity,omitempty"`
	Category    string             `json:"category,omitempty"`
	Stockcode   int64              `json:"stockcode"`
	DisplayName string             `json:"display_name"`
	Price       float64            `json:"price"`
	ImageURL    string             `json:"image_url,omitempty"`
	CupString   string             `json:"cup_string,omitempty"`
	Source      string             `json:"source"`
	Tier        *resolution.Source `json:"tier,omitempty"`
	Deferred    string             `json:"deferred,omitempty"`
}

// UnmatchedItem 找不到商品的項目
type UnmatchedItem struct {
	Ingredient string `json:"ingredient"`
	Quantity   string `json:"quantity,omitempty"`
	Category   string `json:"category,omitempty"`
	Reason     string `json:"reason"`
}

// MatchReport 購物清單比對結果
type MatchReport struct {
	Matched        []MatchedItem   `json:"matched_items"`
	Unmatched      []UnmatchedItem `json:"unmatched_items"`
	TotalItems     int             `json:"total_items"`
	TotalMatched   int             `json:"total_matched"`
	TotalUnmatched int             `json:"total_unmatched"`
	EstimatedCost  float64         `json:"estimated_cost"`
	MatchRate      float64         `json:"match_rate"`
}

// Matcher 先套用偏好，其餘交給目錄搜尋
type Matcher struct {
	pool        *resolution.Pool
	catalog     catalog.Gateway
	searchLimit int
}

// NewMatcher 創建購物清單比對器
func NewMatcher(pool *resolution.Pool, gw catalog.Gateway, searchLimit int) *Matcher {
	if searchLimit <= 0 {
		searchLimit = 3
	}
	return &Matcher{pool: pool, catalog: gw, searchLimit: searchLimit}
}

// Match 比對整份清單，結果順序與輸入一致
func (m *Matcher) Match(ctx context.Context, userID string, items []ListItem) (*MatchReport, error) {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.IngredientText
	}

	results, err := m.pool.ResolveAll(ctx, userID, texts)
	if err != nil {
		return nil, err
	}

	report := &MatchReport{
		Matched:    []MatchedItem{},
		Unmatched:  []UnmatchedItem{},
		TotalItems: len(items),
	}
	for i, item := range items {
		res := results[i]
		if res.IsHit() {
			tier := res.Hit.Source
			report.add(MatchedItem{
				Ingredient:  item.IngredientText,
				Quantity:    item.QuantityText,
				Category:    item.Category,
				Stockcode:   res.Hit.Stockcode,
				DisplayName: res.Hit.DisplayName,
				Price:       res.Hit.Price,
				ImageURL:    res.Hit.ImageURL,
				Source:      SourcePreferred,
				Tier:        &tier,
			})
			continue
		}

		if res.Deferred == resolution.InvalidIngredient {
			report.miss(item, string(res.Deferred))
			continue
		}

		product, err := m.search(ctx, item.IngredientText)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			common.LogWarn("Catalog search failed",
				zap.String("ingredient", item.IngredientText),
				zap.Error(err),
			)
			report.miss(item, "catalog search failed")
			continue
		}
		if product == nil {
			report.miss(item, "no product found")
			continue
		}
		report.add(MatchedItem{
			Ingredient:  item.IngredientText,
			Quantity:    item.QuantityText,
			Category:    item.Category,
			Stockcode:   product.Stockcode,
			DisplayName: product.Title(),
			Price:       product.Price,
			ImageURL:    product.ImageURL,
			CupString:   product.CupString,
			Source:      SourceSearch,
			Deferred:    string(res.Deferred),
		})
	}

	if report.TotalItems > 0 {
		report.MatchRate = float64(report.TotalMatched) / float64(report.TotalItems) * 100
	}
	return report, nil
}

// search 取第一個有庫存的結果，不做排序
func (m *Matcher) search(ctx context.Context, term string) (*catalog.ProductSnapshot, error) {
	products, err := m.catalog.Search(ctx, strings.TrimSpace(term), m.searchLimit)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].InStock {
			return &products[i], nil
		}
	}
	return nil, nil
}

func (r *MatchReport) add(item MatchedItem) {
	r.Matched = append(r.Matched, item)
	r.TotalMatched++
	r.EstimatedCost += item.Price
}

func (r *MatchReport) miss(item ListItem, reason string) {
	r.Unmatched = append(r.Unmatched, UnmatchedItem{
		Ingredient: item.IngredientText,
		Quantity:   item.QuantityText,
		Category:   item.Category,
		Reason:     reason,
	})
	r.TotalUnmatched++
}
