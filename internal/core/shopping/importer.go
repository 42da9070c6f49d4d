package shopping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"woolies-preferences/internal/core/normalize"
	"woolies-preferences/internal/pkg/common"

	"go.uber.org/zap"
)

// CartItem 購物車中的商品
type CartItem struct {
	Stockcode   int64   `json:"stockcode"`
	DisplayName string  `json:"display_name"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// SkippedItem 未匯入的項目與原因
type SkippedItem struct {
	Stockcode   int64  `json:"stockcode"`
	DisplayName string `json:"display_name"`
	Reason      string `json:"reason"`
}

// ImportReport 匯入結果
type ImportReport struct {
	Imported []ImportedItem `json:"imported"`
	Skipped  []SkippedItem  `json:"skipped"`
	Message  string         `json:"message"`
}

// ImportedItem 已匯入的偏好
type ImportedItem struct {
	Ingredient string `json:"ingredient"`
	Stockcode  int64  `json:"stockcode"`
}

// ImportFromCart 由購物車商品推測食材並設為主要商品
func (m *Manager) ImportFromCart(ctx context.Context, userID string, items []CartItem) (*ImportReport, error) {
	userID = m.User(userID)
	report := &ImportReport{
		Imported: []ImportedItem{},
		Skipped:  []SkippedItem{},
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		skip := func(reason string) {
			report.Skipped = append(report.Skipped, SkippedItem{
				Stockcode:   item.Stockcode,
				DisplayName: item.DisplayName,
				Reason:      reason,
			})
		}

		if item.Stockcode <= 0 || strings.TrimSpace(item.DisplayName) == "" {
			skip("missing stockcode or name")
			continue
		}
		ingredient := normalize.IngredientFromProduct(item.DisplayName)
		if ingredient == "" {
			skip("could not derive an ingredient name")
			continue
		}

		if _, err := m.SetPrimary(ctx, userID, ingredient, item.Stockcode); err != nil {
			// 儲存層失效時後續項目也會失敗，直接回報
			if errors.Is(err, common.ErrStoreDegraded) {
				return nil, err
			}
			skip(err.Error())
			continue
		}
		report.Imported = append(report.Imported, ImportedItem{Ingredient: ingredient, Stockcode: item.Stockcode})
	}

	report.Message = importMessage(len(report.Imported), len(report.Skipped))
	common.LogInfo("Cart import finished",
		zap.String("user_id", userID),
		zap.Int("imported", len(report.Imported)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func importMessage(imported, skipped int) string {
	if skipped > 0 {
		return fmt.Sprintf("imported %d preference(s), skipped %d", imported, skipped)
	}
	return fmt.Sprintf("imported %d preference(s)", imported)
}
