// Package resolution 依使用者的偏好鏈為食材挑選商品
package resolution

import "fmt"

// DeferReason 交由目錄搜尋處理的原因
type DeferReason string

const (
	InvalidIngredient        DeferReason = "INVALID_INGREDIENT"
	NoPreference             DeferReason = "NO_PREFERENCE"
	StoreDegraded            DeferReason = "STORE_DEGRADED"
	AllCandidatesUnavailable DeferReason = "ALL_CANDIDATES_UNAVAILABLE"
	BudgetExceeded           DeferReason = "BUDGET_EXCEEDED"
)

// Source 命中的位置：Position 0 為主要商品，n 為第 n 個備選
type Source struct {
	Tier     string `json:"tier"`
	Position int    `json:"position"`
}

var primarySource = Source{Tier: "primary"}

func fallbackSource(n int) Source {
	return Source{Tier: "fallback", Position: n}
}

func (s Source) String() string {
	if s.Position == 0 {
		return "Primary"
	}
	return fmt.Sprintf("Fallback(%d)", s.Position)
}

// ResolvedProduct 命中的商品
type ResolvedProduct struct {
	Stockcode   int64   `json:"stockcode"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url,omitempty"`
	Source      Source  `json:"source"`
}

// Result 單一食材的解析結果，Hit 與 Deferred 擇一
type Result struct {
	Ingredient string           `json:"ingredient"`
	Key        string           `json:"normalized_key,omitempty"`
	Hit        *ResolvedProduct `json:"hit,omitempty"`
	Deferred   DeferReason      `json:"deferred,omitempty"`
}

// IsHit 是否命中偏好
func (r Result) IsHit() bool {
	return r.Hit != nil
}

func deferred(ingredient, key string, reason DeferReason) Result {
	return Result{Ingredient: ingredient, Key: key, Deferred: reason}
}
