package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"woolies-preferences/internal/pkg/common"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// preferenceRow preferred_products 資料表
type preferenceRow struct {
	ID                 string  `gorm:"primaryKey;type:varchar(36)"`
	UserID             string  `gorm:"uniqueIndex:idx_user_key;size:128;not null"`
	NormalizedKey      string  `gorm:"uniqueIndex:idx_user_key;size:255;not null"`
	OriginalName       string  `gorm:"size:255"`
	PrimaryStockcode   int64   `gorm:"not null"`
	FallbackStockcodes []int64 `gorm:"type:text;serializer:json"`
	ProductName        string  `gorm:"size:512"`
	LastKnownPrice     float64
	ImageURL           string    `gorm:"size:1024"`
	UseCount           int64     `gorm:"not null;default:0"`
	AddedAt            time.Time `gorm:"not null;index"`
	LastUsedAt         *time.Time
}

func (preferenceRow) TableName() string {
	return "preferred_products"
}

func (r *preferenceRow) toRecord() *Record {
	rec := &Record{
		UserID:             r.UserID,
		Key:                r.NormalizedKey,
		OriginalName:       r.OriginalName,
		PrimaryStockcode:   r.PrimaryStockcode,
		FallbackStockcodes: r.FallbackStockcodes,
		ProductName:        r.ProductName,
		LastKnownPrice:     r.LastKnownPrice,
		ImageURL:           r.ImageURL,
		UseCount:           r.UseCount,
		AddedAt:            r.AddedAt.UTC(),
	}
	if rec.FallbackStockcodes == nil {
		rec.FallbackStockcodes = []int64{}
	}
	if r.LastUsedAt != nil {
		t := r.LastUsedAt.UTC()
		rec.LastUsedAt = &t
	}
	return rec
}

// SQLStore 以 GORM 實作的偏好儲存（SQLite 或 PostgreSQL）
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLStore 依驅動開啟資料庫並建立資料表
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStoreUnavailable, driver, err)
	}

	// SQLite 只允許單一寫入者，連線池固定為一條
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return NewSQLStore(db)
}

// NewSQLStore 使用既有連線，並執行遷移
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&preferenceRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate preferred_products: %w", err)
	}
	return &SQLStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, userID, key string) (*Record, error) {
	var row preferenceRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND normalized_key = ?", userID, key).
		First(&row).Error
	if err != nil {
		return nil, s.mapError(err)
	}
	return row.toRecord(), nil
}

func (s *SQLStore) UpsertPrimary(ctx context.Context, userID, key string, p Primary) (*Record, error) {
	if err := validatePrimary(p); err != nil {
		return nil, err
	}

	var out *Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 不存在才插入，並發建立時由唯一索引決定誰先
		seed := preferenceRow{
			ID:                 uuid.NewString(),
			UserID:             userID,
			NormalizedKey:      key,
			OriginalName:       p.OriginalName,
			PrimaryStockcode:   p.Stockcode,
			FallbackStockcodes: []int64{},
			ProductName:        p.ProductName,
			LastKnownPrice:     p.Price,
			ImageURL:           p.ImageURL,
			AddedAt:            s.now(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "normalized_key"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return err
		}

		row, err := lockRow(tx, userID, key)
		if err != nil {
			return err
		}

		row.OriginalName = p.OriginalName
		row.PrimaryStockcode = p.Stockcode
		row.ProductName = p.ProductName
		row.LastKnownPrice = p.Price
		row.ImageURL = p.ImageURL
		row.FallbackStockcodes = withoutCode(row.FallbackStockcodes, p.Stockcode)

		if err := tx.Model(row).Select(
			"original_name", "primary_stockcode", "product_name",
			"last_known_price", "image_url", "fallback_stockcodes",
		).Updates(row).Error; err != nil {
			return err
		}
		out = row.toRecord()
		return nil
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return out, nil
}

func (s *SQLStore) SetFallbacks(ctx context.Context, userID, key string, codes []int64) (*Record, error) {
	var out *Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRow(tx, userID, key)
		if err != nil {
			return err
		}
		if err := ValidateFallbacks(row.PrimaryStockcode, codes); err != nil {
			return err
		}
		row.FallbackStockcodes = append([]int64{}, codes...)
		if err := tx.Model(row).Select("fallback_stockcodes").Updates(row).Error; err != nil {
			return err
		}
		out = row.toRecord()
		return nil
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return out, nil
}

func (s *SQLStore) AppendFallback(ctx context.Context, userID, key string, code int64) (*Record, error) {
	if err := ValidateFallbacks(0, []int64{code}); err != nil {
		return nil, err
	}

	var out *Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRow(tx, userID, key)
		if err != nil {
			return err
		}
		if code != row.PrimaryStockcode && !containsCode(row.FallbackStockcodes, code) {
			row.FallbackStockcodes = append(row.FallbackStockcodes, code)
			if err := tx.Model(row).Select("fallback_stockcodes").Updates(row).Error; err != nil {
				return err
			}
		}
		out = row.toRecord()
		return nil
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return out, nil
}

// RecordUsage 單一 UPDATE，計數由資料庫遞增
func (s *SQLStore) RecordUsage(ctx context.Context, userID, key string) error {
	result := s.db.WithContext(ctx).
		Model(&preferenceRow{}).
		Where("user_id = ? AND normalized_key = ?", userID, key).
		Updates(map[string]interface{}{
			"use_count":    gorm.Expr("use_count + ?", 1),
			"last_used_at": s.now(),
		})
	if result.Error != nil {
		return s.mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, userID, key string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND normalized_key = ?", userID, key).
		Delete(&preferenceRow{})
	if result.Error != nil {
		return false, s.mapError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *SQLStore) ListAll(ctx context.Context, userID string) ([]Record, error) {
	var rows []preferenceRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("added_at ASC").
		Order("normalized_key ASC").
		Find(&rows).Error
	if err != nil {
		return nil, s.mapError(err)
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, *rows[i].toRecord())
	}
	// 資料庫時間精度可能不同，再排序一次確保順序一致
	sortRecords(records)
	return records, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// lockRow 在交易中鎖定單筆資料；SQLite 會忽略 FOR UPDATE
func lockRow(tx *gorm.DB, userID, key string) (*preferenceRow, error) {
	var row preferenceRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND normalized_key = ?", userID, key).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// mapError 轉換為套件的錯誤
func (s *SQLStore) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInvalidFallbackList):
		return err
	default:
		common.LogWarn("Preference store query failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
