package catalog

import (
	"net/http"
	"sync"
	"time"

	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"go.uber.org/zap"
)

// Session 已登入的 Woolworths cookie，帶有到期時間
type Session struct {
	Cookies   map[string]string
	ExpiresAt time.Time
}

// Expired 是否已過期
func (s *Session) Expired(now time.Time) bool {
	return s == nil || len(s.Cookies) == 0 || !now.Before(s.ExpiresAt)
}

// sessionHolder 保存目前的 session，只屬於單一 Client
type sessionHolder struct {
	mu      sync.RWMutex
	session *Session
}

func (h *sessionHolder) set(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s == nil {
		h.session = nil
		return
	}
	cookies := make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		cookies[k] = v
	}
	h.session = &Session{Cookies: cookies, ExpiresAt: s.ExpiresAt}
}

// cookies 回傳可送出的 cookie；過期的 session 不會送出
func (h *sessionHolder) cookies(now time.Time) []*http.Cookie {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session.Expired(now) {
		return nil
	}
	out := make([]*http.Cookie, 0, len(h.session.Cookies))
	for name, value := range h.session.Cookies {
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}

// sessionFromConfig 由設定的 cookie 標頭建立 session，未設定時回傳 nil
func sessionFromConfig(cfg config.CatalogConfig, now time.Time) *Session {
	if cfg.SessionCookie == "" {
		return nil
	}
	parsed, err := http.ParseCookie(cfg.SessionCookie)
	if err != nil {
		common.LogWarn("Ignoring invalid catalog session cookie", zap.Error(err))
		return nil
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	cookies := make(map[string]string, len(parsed))
	for _, c := range parsed {
		cookies[c.Name] = c.Value
	}
	return &Session{Cookies: cookies, ExpiresAt: now.Add(ttl)}
}
