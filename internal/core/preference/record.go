// Package preference 保存使用者對每個食材指定的偏好商品
package preference

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound 該使用者沒有此食材的偏好
	ErrNotFound = errors.New("preference not found")
	// ErrStoreUnavailable 儲存層無法連線或逾時
	ErrStoreUnavailable = errors.New("preference store unavailable")
	// ErrInvalidFallbackList 備選清單重複、包含主要商品或含非正數代碼
	ErrInvalidFallbackList = errors.New("invalid fallback list")
)

// Record 一筆偏好，(UserID, Key) 唯一
type Record struct {
	UserID             string     `json:"user_id"`
	Key                string     `json:"normalized_key"`
	OriginalName       string     `json:"original_name"`
	PrimaryStockcode   int64      `json:"primary_stockcode"`
	FallbackStockcodes []int64    `json:"fallback_stockcodes"`
	ProductName        string     `json:"product_name"`
	LastKnownPrice     float64    `json:"last_known_price"`
	ImageURL           string     `json:"image_url,omitempty"`
	UseCount           int64      `json:"use_count"`
	AddedAt            time.Time  `json:"added_at"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

// Primary 設定主要商品時寫入的資料，商品欄位為目錄的快取
type Primary struct {
	OriginalName string
	Stockcode    int64
	ProductName  string
	Price        float64
	ImageURL     string
}

// Store 偏好儲存介面，所有操作以使用者區隔
type Store interface {
	Get(ctx context.Context, userID, key string) (*Record, error)
	UpsertPrimary(ctx context.Context, userID, key string, p Primary) (*Record, error)
	SetFallbacks(ctx context.Context, userID, key string, codes []int64) (*Record, error)
	AppendFallback(ctx context.Context, userID, key string, code int64) (*Record, error)
	// RecordUsage 原子地 use_count+1 並更新 last_used_at
	RecordUsage(ctx context.Context, userID, key string) error
	Remove(ctx context.Context, userID, key string) (bool, error)
	// ListAll 依 added_at 升冪，相同時間依 key 排序
	ListAll(ctx context.Context, userID string) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// ValidateFallbacks 檢查備選清單
func ValidateFallbacks(primary int64, codes []int64) error {
	seen := make(map[int64]struct{}, len(codes))
	for _, code := range codes {
		if code <= 0 {
			return fmt.Errorf("%w: stockcode %d is not positive", ErrInvalidFallbackList, code)
		}
		if code == primary {
			return fmt.Errorf("%w: stockcode %d is already the primary", ErrInvalidFallbackList, code)
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("%w: stockcode %d listed twice", ErrInvalidFallbackList, code)
		}
		seen[code] = struct{}{}
	}
	return nil
}

// withoutCode 移除清單中的指定代碼，回傳新切片
func withoutCode(codes []int64, code int64) []int64 {
	out := make([]int64, 0, len(codes))
	for _, c := range codes {
		if c != code {
			out = append(out, c)
		}
	}
	return out
}

func containsCode(codes []int64, code int64) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func cloneRecord(r *Record) *Record {
	out := *r
	out.FallbackStockcodes = append([]int64(nil), r.FallbackStockcodes...)
	if out.FallbackStockcodes == nil {
		out.FallbackStockcodes = []int64{}
	}
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}

func validatePrimary(p Primary) error {
	if p.Stockcode <= 0 {
		return fmt.Errorf("invalid primary stockcode %d", p.Stockcode)
	}
	return nil
}
