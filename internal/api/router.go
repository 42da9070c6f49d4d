package api

import (
	"time"

	catalogHandler "woolies-preferences/internal/api/handlers/catalog"
	"woolies-preferences/internal/api/handlers/health"
	preferenceHandler "woolies-preferences/internal/api/handlers/preference"
	"woolies-preferences/internal/api/middleware"
	"woolies-preferences/internal/app"
	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router HTTP 路由與需要關閉的中間件資源
type Router struct {
	*gin.Engine
	dedup *middleware.Deduplicator
}

// Close 停止中間件的背景 goroutine
func (r *Router) Close() {
	if r.dedup != nil {
		r.dedup.Close()
	}
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, a *app.App) *Router {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件
	router.Use(requestid.New(requestid.WithGenerator(common.GenerateUUID)))
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))

	// 健康檢查與指標不受限流影響
	healthHandler := health.NewHandler(health.Options{
		Version: cfg.App.Version,
		Store:   a.Store,
		Catalog: a.Client,
		Pool:    a.Pool,
		Cache:   a.Catalog,
	})
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	r := &Router{Engine: router, dedup: middleware.NewDeduplicator(cfg.DedupWindow)}

	// API 路由組
	v1 := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		v1.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	v1.Use(r.dedup.Handler())
	v1.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	{
		prefs := preferenceHandler.NewHandler(a.Manager, a.Matcher, cfg.App.Debug)

		users := v1.Group("/users/:user_id")
		{
			users.GET("/preferences", prefs.HandleList)
			users.POST("/preferences/import-cart", prefs.HandleImportCart)
			users.PUT("/preferences/:ingredient/primary", prefs.HandleSetPrimary)
			users.PUT("/preferences/:ingredient/fallbacks", prefs.HandleSetFallbacks)
			users.POST("/preferences/:ingredient/fallbacks", prefs.HandleAddFallback)
			users.DELETE("/preferences/:ingredient", prefs.HandleRemove)

			users.GET("/resolve", prefs.HandleResolve)
			users.POST("/shopping-list/match", prefs.HandleMatch)
		}

		search := catalogHandler.NewHandler(a.Catalog, cfg.Catalog.SearchLimit, cfg.App.Debug)
		v1.GET("/catalog/search", search.HandleSearch)
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Duration("timeout", cfg.Server.RequestTimeout),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
	)

	return r
}
