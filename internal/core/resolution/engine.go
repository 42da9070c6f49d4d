package resolution

import (
	"context"
	"errors"
	"time"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/normalize"
	"woolies-preferences/internal/core/preference"
	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"go.uber.org/zap"
)

// Engine 偏好解析引擎，本身無狀態，可被多個 goroutine 共用
type Engine struct {
	store            preference.Store
	catalog          catalog.Gateway
	candidateTimeout time.Duration
	maxBudget        time.Duration
	metrics          *Metrics
}

// candidate 待查詢的商品與其位置
type candidate struct {
	stockcode int64
	source    Source
}

// NewEngine 創建解析引擎，metrics 可為 nil
func NewEngine(store preference.Store, gw catalog.Gateway, cfg config.ResolutionConfig, metrics *Metrics) *Engine {
	return &Engine{
		store:            store,
		catalog:          gw,
		candidateTimeout: cfg.CandidateTimeout,
		maxBudget:        cfg.MaxBudget,
		metrics:          metrics,
	}
}

// Resolve 解析單一食材。只有呼叫端取消時才回傳 error，其他情況以 Deferred 表示
func (e *Engine) Resolve(ctx context.Context, userID, ingredient string) (Result, error) {
	start := time.Now()
	result, err := e.resolve(ctx, userID, ingredient)
	if err != nil {
		return Result{}, err
	}
	e.metrics.observeResult(result, time.Since(start))
	return result, nil
}

func (e *Engine) resolve(ctx context.Context, userID, ingredient string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	key := normalize.Normalize(ingredient)
	if !normalize.IsValid(key) {
		return deferred(ingredient, "", InvalidIngredient), nil
	}

	rec, err := e.store.Get(ctx, userID, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if errors.Is(err, preference.ErrNotFound) {
			return deferred(ingredient, key, NoPreference), nil
		}
		common.LogWarn("Preference lookup failed, deferring to search",
			zap.String("user_id", userID),
			zap.String("key", key),
			zap.Error(err),
		)
		return deferred(ingredient, key, StoreDegraded), nil
	}

	candidates := candidatesOf(rec)
	if len(candidates) == 0 {
		return deferred(ingredient, key, AllCandidatesUnavailable), nil
	}

	budget := e.candidateTimeout * time.Duration(len(candidates))
	if e.maxBudget > 0 && budget > e.maxBudget {
		budget = e.maxBudget
	}
	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for _, c := range candidates {
		if budgetCtx.Err() != nil {
			break
		}

		snapshot, err := e.probe(budgetCtx, c.stockcode)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		fields := []zap.Field{
			zap.String("user_id", userID),
			zap.String("key", key),
			zap.Int64("stockcode", c.stockcode),
			zap.String("tier", c.source.String()),
		}
		switch {
		case err != nil:
			result := "unavailable"
			if errors.Is(err, catalog.ErrProductNotFound) {
				result = "not_found"
			}
			e.metrics.observeProbe(c.source.Tier, result)
			common.LogInfo("Preferred product skipped", append(fields, zap.String("result", result), zap.Error(err))...)
			continue
		case !snapshot.InStock:
			e.metrics.observeProbe(c.source.Tier, "out_of_stock")
			common.LogInfo("Preferred product out of stock", fields...)
			continue
		}

		e.metrics.observeProbe(c.source.Tier, "hit")
		if err := e.store.RecordUsage(ctx, userID, key); err != nil {
			e.metrics.observeUsageError()
			common.LogWarn("Failed to record preference usage", append(fields, zap.Error(err))...)
		}

		return Result{
			Ingredient: ingredient,
			Key:        key,
			Hit: &ResolvedProduct{
				Stockcode:   c.stockcode,
				DisplayName: snapshot.Title(),
				Price:       snapshot.Price,
				ImageURL:    snapshot.ImageURL,
				Source:      c.source,
			},
		}, nil
	}

	if errors.Is(budgetCtx.Err(), context.DeadlineExceeded) {
		common.LogWarn("Resolution budget exceeded",
			zap.String("user_id", userID),
			zap.String("key", key),
			zap.Duration("budget", budget),
		)
		return deferred(ingredient, key, BudgetExceeded), nil
	}
	return deferred(ingredient, key, AllCandidatesUnavailable), nil
}

// probe 以單一候選的逾時查詢目錄
func (e *Engine) probe(ctx context.Context, stockcode int64) (*catalog.ProductSnapshot, error) {
	probeCtx, cancel := context.WithTimeout(ctx, e.candidateTimeout)
	defer cancel()
	return e.catalog.Lookup(probeCtx, stockcode)
}

// candidatesOf 主要商品在前，依序為備選；重複與非正數代碼略過
func candidatesOf(rec *preference.Record) []candidate {
	out := make([]candidate, 0, 1+len(rec.FallbackStockcodes))
	seen := make(map[int64]struct{}, 1+len(rec.FallbackStockcodes))
	add := func(code int64, source Source) {
		if code <= 0 {
			return
		}
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		out = append(out, candidate{stockcode: code, source: source})
	}

	add(rec.PrimaryStockcode, primarySource)
	for i, code := range rec.FallbackStockcodes {
		add(code, fallbackSource(i+1))
	}
	return out
}
