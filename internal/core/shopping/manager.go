// Package shopping 提供管理偏好與比對購物清單的操作
package shopping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/normalize"
	"woolies-preferences/internal/core/preference"
	"woolies-preferences/internal/core/resolution"
	"woolies-preferences/internal/pkg/common"

	"go.uber.org/zap"
)

// Reply 管理操作的結果與給使用者的訊息
type Reply struct {
	Message    string             `json:"message"`
	Preference *preference.Record `json:"preference,omitempty"`
	Removed    bool               `json:"removed,omitempty"`
}

// Manager 管理使用者的偏好商品
type Manager struct {
	store       preference.Store
	catalog     catalog.Gateway
	engine      *resolution.Engine
	defaultUser string
}

// NewManager 創建偏好管理器
func NewManager(store preference.Store, gw catalog.Gateway, engine *resolution.Engine, defaultUser string) *Manager {
	if defaultUser == "" {
		defaultUser = "default"
	}
	return &Manager{
		store:       store,
		catalog:     gw,
		engine:      engine,
		defaultUser: defaultUser,
	}
}

// User 空白的使用者代碼使用預設值
func (m *Manager) User(userID string) string {
	if userID = strings.TrimSpace(userID); userID == "" {
		return m.defaultUser
	}
	return userID
}

// SetPrimary 設定主要商品，代碼須先通過目錄驗證
func (m *Manager) SetPrimary(ctx context.Context, userID, ingredient string, stockcode int64) (*Reply, error) {
	userID = m.User(userID)
	key, err := keyFor(ingredient)
	if err != nil {
		return nil, err
	}

	product, err := m.verify(ctx, stockcode)
	if err != nil {
		return nil, err
	}

	rec, err := m.store.UpsertPrimary(ctx, userID, key, preference.Primary{
		OriginalName: strings.TrimSpace(ingredient),
		Stockcode:    stockcode,
		ProductName:  product.Title(),
		Price:        product.Price,
		ImageURL:     product.ImageURL,
	})
	if err != nil {
		return nil, storeError(err, ingredient)
	}

	common.LogInfo("Preferred product saved",
		zap.String("user_id", userID),
		zap.String("key", key),
		zap.Int64("stockcode", stockcode),
	)
	return &Reply{
		Message:    fmt.Sprintf("saved %s for %s with %d fallback(s)", product.Title(), rec.OriginalName, len(rec.FallbackStockcodes)),
		Preference: rec,
	}, nil
}

// SetFallbacks 整批取代備選清單，每個代碼都要通過目錄驗證
func (m *Manager) SetFallbacks(ctx context.Context, userID, ingredient string, codes []int64) (*Reply, error) {
	userID = m.User(userID)
	key, err := keyFor(ingredient)
	if err != nil {
		return nil, err
	}

	rec, err := m.store.Get(ctx, userID, key)
	if err != nil {
		return nil, storeError(err, ingredient)
	}
	if err := preference.ValidateFallbacks(rec.PrimaryStockcode, codes); err != nil {
		return nil, common.ErrInvalidFallbackList.WithMessage(err.Error(), err)
	}
	for _, code := range codes {
		if _, err := m.verify(ctx, code); err != nil {
			return nil, err
		}
	}

	rec, err = m.store.SetFallbacks(ctx, userID, key, codes)
	if err != nil {
		return nil, storeError(err, ingredient)
	}
	return &Reply{
		Message:    fmt.Sprintf("saved with %d fallback(s)", len(rec.FallbackStockcodes)),
		Preference: rec,
	}, nil
}

// AddFallback 在備選清單末端加入一個代碼
func (m *Manager) AddFallback(ctx context.Context, userID, ingredient string, code int64) (*Reply, error) {
	userID = m.User(userID)
	key, err := keyFor(ingredient)
	if err != nil {
		return nil, err
	}
	if err := preference.ValidateFallbacks(0, []int64{code}); err != nil {
		return nil, common.ErrInvalidFallbackList.WithMessage(err.Error(), err)
	}

	rec, err := m.store.Get(ctx, userID, key)
	if err != nil {
		return nil, storeError(err, ingredient)
	}
	if code == rec.PrimaryStockcode {
		return &Reply{Message: fmt.Sprintf("%d is already the primary for %s", code, rec.OriginalName), Preference: rec}, nil
	}
	for _, existing := range rec.FallbackStockcodes {
		if existing == code {
			return &Reply{Message: fmt.Sprintf("%d is already a fallback for %s", code, rec.OriginalName), Preference: rec}, nil
		}
	}

	if _, err := m.verify(ctx, code); err != nil {
		return nil, err
	}
	rec, err = m.store.AppendFallback(ctx, userID, key, code)
	if err != nil {
		return nil, storeError(err, ingredient)
	}
	return &Reply{
		Message:    fmt.Sprintf("saved with %d fallback(s)", len(rec.FallbackStockcodes)),
		Preference: rec,
	}, nil
}

// ListPreferences 列出使用者所有偏好
func (m *Manager) ListPreferences(ctx context.Context, userID string) ([]preference.Record, error) {
	records, err := m.store.ListAll(ctx, m.User(userID))
	if err != nil {
		return nil, loadError(err)
	}
	return records, nil
}

// RemovePreference 移除偏好；不存在時也視為成功
func (m *Manager) RemovePreference(ctx context.Context, userID, ingredient string) (*Reply, error) {
	userID = m.User(userID)
	key, err := keyFor(ingredient)
	if err != nil {
		return nil, err
	}

	removed, err := m.store.Remove(ctx, userID, key)
	if err != nil {
		return nil, storeError(err, ingredient)
	}
	if !removed {
		return &Reply{Message: fmt.Sprintf("nothing to remove for %s", ingredient)}, nil
	}
	return &Reply{Message: fmt.Sprintf("removed %s", ingredient), Removed: true}, nil
}

// Resolve 解析單一食材
func (m *Manager) Resolve(ctx context.Context, userID, ingredient string) (resolution.Result, error) {
	return m.engine.Resolve(ctx, m.User(userID), ingredient)
}

// verify 確認代碼存在於目錄
func (m *Manager) verify(ctx context.Context, stockcode int64) (*catalog.ProductSnapshot, error) {
	if stockcode <= 0 {
		return nil, common.ErrUnknownStockcode.WithMessage(fmt.Sprintf("no such stockcode %d", stockcode), nil)
	}
	product, err := m.catalog.Lookup(ctx, stockcode)
	switch {
	case err == nil:
		return product, nil
	case errors.Is(err, catalog.ErrProductNotFound):
		return nil, common.ErrUnknownStockcode.WithMessage(fmt.Sprintf("no such stockcode %d", stockcode), err)
	default:
		return nil, common.ErrCatalogUnavailable.WithMessage(fmt.Sprintf("could not verify stockcode %d, try again", stockcode), err)
	}
}

func keyFor(ingredient string) (string, error) {
	key := normalize.Normalize(ingredient)
	if !normalize.IsValid(key) {
		return "", common.ErrInvalidIngredient.WithMessage(fmt.Sprintf("%q is not a usable ingredient name", ingredient), nil)
	}
	return key, nil
}

// storeError 將儲存層錯誤轉為使用者可讀的錯誤
func storeError(err error, ingredient string) error {
	switch {
	case errors.Is(err, preference.ErrNotFound):
		return common.ErrNoPreference.WithMessage(fmt.Sprintf("no preference set for %s", ingredient), err)
	case errors.Is(err, preference.ErrInvalidFallbackList):
		return common.ErrInvalidFallbackList.WithMessage(err.Error(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.ErrRequestTimeout.WithMessage("request cancelled", err)
	default:
		return common.ErrStoreDegraded.WithMessage("could not save, try again", err)
	}
}

// loadError 讀取失敗不應回報為寫入失敗
func loadError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.ErrRequestTimeout.WithMessage("request cancelled", err)
	default:
		return common.ErrStoreDegraded.WithMessage("could not load preferences, try again", err)
	}
}
