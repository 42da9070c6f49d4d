package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig        `mapstructure:"app"`
	Server      ServerConfig     `mapstructure:"server"`
	Log         LogConfig        `mapstructure:"log"`
	Catalog     CatalogConfig    `mapstructure:"catalog"`
	Store       StoreConfig      `mapstructure:"store"`
	Resolution  ResolutionConfig `mapstructure:"resolution"`
	Cache       CacheConfig      `mapstructure:"cache"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	DedupWindow time.Duration    `mapstructure:"dedup_window"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env         string `mapstructure:"env"`
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	Name        string `mapstructure:"name"`
	DefaultUser string `mapstructure:"default_user"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// LogConfig 日誌設定
type LogConfig struct {
	Level string `mapstructure:"level"`
	Mode  string `mapstructure:"mode"`
	File  string `mapstructure:"file"`
}

// CatalogConfig Woolworths 商品目錄設定
type CatalogConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SearchLimit   int           `mapstructure:"search_limit"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	UserAgent     string        `mapstructure:"user_agent"`
	// SessionCookie 已登入的 cookie 標頭，例如 "w-session=abc; bm_sz=xyz"
	SessionCookie string        `mapstructure:"session_cookie"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

// StoreConfig 偏好儲存設定
type StoreConfig struct {
	Driver        string `mapstructure:"driver"` // memory | sqlite | postgres | redis
	DSN           string `mapstructure:"dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// ResolutionConfig 偏好解析設定
type ResolutionConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	CandidateTimeout time.Duration `mapstructure:"candidate_timeout"`
	MaxBudget        time.Duration `mapstructure:"max_budget"`
}

// CacheConfig 搜尋結果快取配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// 支援的儲存驅動
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// LoadConfig 載入設定，.env 不存在時只使用環境變數與預設值
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Load(viper.New())
}

// Load 以指定的 viper 實例解析設定
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// 設定環境變數前綴
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 綁定常用環境變量
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.mode", "LOG_MODE")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.dsn", "DATABASE_URL")
	_ = v.BindEnv("store.redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("store.redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("catalog.base_url", "WOOLWORTHS_API_BASE")
	_ = v.BindEnv("catalog.session_cookie", "WOOLWORTHS_SESSION_COOKIE")
	_ = v.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	_ = v.BindEnv("dedup_window", "DEDUP_WINDOW")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DATABASE_URL 存在而未指定驅動時，沿用 postgres
	if config.Store.Driver == "" {
		config.Store.Driver = inferDriver(config.Store)
	}
	config.Store.DSN = normalizePostgresDSN(config.Store.DSN)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "woolies-preferences")
	v.SetDefault("app.default_user", "default")

	// 伺服器設定
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "45s")
	v.SetDefault("server.max_body_bytes", 1<<20)

	// 日誌設定
	v.SetDefault("log.level", "info")
	v.SetDefault("log.mode", "")
	v.SetDefault("log.file", "logs/app.log")

	// 商品目錄設定
	v.SetDefault("catalog.base_url", "https://www.woolworths.com.au/apis/ui")
	v.SetDefault("catalog.timeout", "10s")
	v.SetDefault("catalog.search_limit", 3)
	v.SetDefault("catalog.rate_per_second", 5)
	v.SetDefault("catalog.burst", 5)
	v.SetDefault("catalog.session_ttl", "12h")
	v.SetDefault("catalog.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")

	// 儲存設定
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", "woolies")

	// 解析設定
	v.SetDefault("resolution.workers", 4)
	v.SetDefault("resolution.queue_size", 64)
	v.SetDefault("resolution.candidate_timeout", "5s")
	v.SetDefault("resolution.max_budget", "15s")

	// 快取設定
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_size", 500)
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.cleanup_interval", "5m")

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("dedup_window", "1s")
}

// inferDriver 依既有設定推斷儲存驅動
func inferDriver(s StoreConfig) string {
	dsn := strings.TrimSpace(s.DSN)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// normalizePostgresDSN 修正 postgres:// 前綴
func normalizePostgresDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(dsn, "postgres://")
	}
	return dsn
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 {
		return fmt.Errorf("server port is required")
	}

	switch config.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite:
		if config.Store.DSN == "" {
			config.Store.DSN = "woolies_preferences.db"
		}
	case DriverPostgres:
		if config.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", config.Store.Driver)
	}
	if config.Store.Driver == DriverRedis && config.Store.RedisAddr == "" {
		return fmt.Errorf("redis address is required")
	}

	if config.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base url is required")
	}
	if config.Catalog.Timeout <= 0 {
		return fmt.Errorf("invalid catalog timeout")
	}
	if config.Catalog.SearchLimit <= 0 {
		return fmt.Errorf("invalid catalog search limit")
	}

	if config.Resolution.Workers <= 0 {
		return fmt.Errorf("invalid resolution workers")
	}
	if config.Resolution.QueueSize <= 0 {
		return fmt.Errorf("invalid resolution queue size")
	}
	if config.Resolution.CandidateTimeout <= 0 {
		return fmt.Errorf("invalid candidate timeout")
	}
	if config.Resolution.MaxBudget < config.Resolution.CandidateTimeout {
		return fmt.Errorf("resolution max budget must be at least one candidate timeout")
	}

	if config.Cache.Enabled {
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
	}

	if config.RateLimit.Enabled && (config.RateLimit.Requests <= 0 || config.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit")
	}

	return nil
}
