// Package app 依設定組裝服務與 CLI 共用的元件
package app

import (
	"context"
	"errors"
	"fmt"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/preference"
	"woolies-preferences/internal/core/resolution"
	"woolies-preferences/internal/core/shopping"
	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// App 已組裝的元件
type App struct {
	Config   *config.Config
	Store    preference.Store
	Client   *catalog.Client
	Catalog  *catalog.CachedGateway
	Registry *prometheus.Registry
	Engine   *resolution.Engine
	Pool     *resolution.Pool
	Manager  *shopping.Manager
	Matcher  *shopping.Matcher
}

// New 依設定建立所有元件
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	client := catalog.NewClient(cfg.Catalog)
	return Assemble(cfg, store, client), nil
}

// Assemble 以既有的儲存與目錄組裝其餘元件
func Assemble(cfg *config.Config, store preference.Store, client *catalog.Client) *App {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gateway := catalog.NewCachedGateway(client, catalog.NewSearchCache(cfg.Cache))
	engine := resolution.NewEngine(store, gateway, cfg.Resolution, resolution.NewMetrics(registry))
	pool := resolution.NewPool(engine, cfg.Resolution)

	common.LogInfo("Components initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("catalog", cfg.Catalog.BaseURL),
		zap.Bool("search_cache", cfg.Cache.Enabled),
		zap.Int("workers", cfg.Resolution.Workers),
	)

	return &App{
		Config:   cfg,
		Store:    store,
		Client:   client,
		Catalog:  gateway,
		Registry: registry,
		Engine:   engine,
		Pool:     pool,
		Manager:  shopping.NewManager(store, gateway, engine, cfg.App.DefaultUser),
		Matcher:  shopping.NewMatcher(pool, gateway, cfg.Catalog.SearchLimit),
	}
}

// OpenStore 依驅動開啟偏好儲存
func OpenStore(ctx context.Context, cfg config.StoreConfig) (preference.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return preference.NewMemoryStore(), nil
	case config.DriverSQLite, config.DriverPostgres:
		return preference.OpenSQLStore(cfg.Driver, cfg.DSN)
	case config.DriverRedis:
		return preference.OpenRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Close 依建立的反向順序關閉
func (a *App) Close() error {
	a.Pool.Close()
	return errors.Join(a.Catalog.Close(), a.Store.Close())
}
