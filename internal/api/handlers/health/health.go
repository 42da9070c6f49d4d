package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/core/resolution"
	"woolies-preferences/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// readyTimeout 就緒檢查中每個依賴的時限
const readyTimeout = 2 * time.Second

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime"`
	Catalog   string                 `json:"catalog,omitempty"`
	Queue     *resolution.Status     `json:"queue,omitempty"`
	Cache     *catalog.CacheStats    `json:"cache,omitempty"`
}

// Pinger 可檢查連線的依賴
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options 健康檢查使用的元件，皆可為 nil
type Options struct {
	Version string
	Store   Pinger
	Catalog Pinger
	Pool    interface{ Status() resolution.Status }
	Cache   interface{ Stats() *catalog.CacheStats }
}

// Handler 健康檢查處理器
type Handler struct {
	opts Options
}

// NewHandler 創建健康檢查處理器
func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts}
}

// HealthCheck 健康檢查處理器
func (h *Handler) HealthCheck(c *gin.Context) {
	// 獲取運行時信息
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.opts.Version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}
	// 目錄不可用時服務仍可讀寫偏好，只標記為降級
	if h.opts.Catalog != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		err := h.opts.Catalog.Ping(ctx)
		cancel()
		if err != nil {
			common.LogWarn("Catalog health check failed", zap.Error(err))
			response.Status = "degraded"
			response.Catalog = err.Error()
		} else {
			response.Catalog = "ok"
		}
	}
	if h.opts.Pool != nil {
		status := h.opts.Pool.Status()
		response.Queue = &status
	}
	if h.opts.Cache != nil {
		response.Cache = h.opts.Cache.Stats()
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 就緒檢查：偏好儲存必須可用
func (h *Handler) ReadinessCheck(c *gin.Context) {
	checks := gin.H{}
	ready := true

	if h.opts.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		err := h.opts.Store.Ping(ctx)
		cancel()
		if err != nil {
			common.LogWarn("Preference store not ready", zap.Error(err))
			checks["store"] = err.Error()
			ready = false
		} else {
			checks["store"] = "ok"
		}
	}
	if h.opts.Pool != nil {
		if h.opts.Pool.Status().Closed {
			checks["resolver"] = "closed"
			ready = false
		} else {
			checks["resolver"] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

// LivenessCheck 存活檢查處理器
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
