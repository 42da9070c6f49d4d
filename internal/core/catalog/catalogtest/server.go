// Package catalogtest 提供模擬 Woolworths UI API 的測試伺服器
package catalogtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/infrastructure/config"
)

// Server 記憶體中的商品目錄
type Server struct {
	*httptest.Server

	mu       sync.RWMutex
	products map[int64]catalog.ProductSnapshot
	order    []int64
	down     atomic.Bool
	lookups  atomic.Int64
	searches atomic.Int64
}

// NewServer 以指定商品啟動伺服器，測試結束時需呼叫 Close
func NewServer(products ...catalog.ProductSnapshot) *Server {
	s := &Server{products: make(map[int64]catalog.ProductSnapshot)}
	for _, p := range products {
		s.Put(p)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/products/", s.handleLookup)
	mux.HandleFunc("/Search/products", s.handleSearch)
	s.Server = httptest.NewServer(mux)
	return s
}

// Put 新增或更新商品
func (s *Server) Put(p catalog.ProductSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.Stockcode]; !ok {
		s.order = append(s.order, p.Stockcode)
	}
	s.products[p.Stockcode] = p
}

// SetDown 模擬目錄故障，所有請求回傳 503
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

// Lookups 商品查詢次數
func (s *Server) Lookups() int64 { return s.lookups.Load() }

// Searches 搜尋次數
func (s *Server) Searches() int64 { return s.searches.Load() }

// CatalogConfig 指向本伺服器的目錄設定
func (s *Server) CatalogConfig() config.CatalogConfig {
	return config.CatalogConfig{
		BaseURL:     s.URL,
		Timeout:     2 * time.Second,
		SearchLimit: 3,
		UserAgent:   "catalogtest",
	}
}

// CatalogClient 指向本伺服器的客戶端
func (s *Server) CatalogClient() *catalog.Client {
	return catalog.NewClient(s.CatalogConfig())
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	s.lookups.Add(1)
	if s.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	code, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/products/"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	p, ok := s.products[code]
	s.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, wire(p))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.searches.Add(1)
	if s.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	term := strings.ToLower(r.URL.Query().Get("searchTerm"))

	s.mu.RLock()
	var bundles []map[string]interface{}
	for _, code := range s.order {
		p := s.products[code]
		if strings.Contains(strings.ToLower(p.Name+" "+p.DisplayName), term) {
			bundles = append(bundles, map[string]interface{}{
				"Products": []map[string]interface{}{wire(p)},
			})
		}
	}
	s.mu.RUnlock()

	writeJSON(w, map[string]interface{}{"Products": bundles})
}

func wire(p catalog.ProductSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"Stockcode":       p.Stockcode,
		"Name":            p.Name,
		"DisplayName":     p.DisplayName,
		"Price":           p.Price,
		"IsAvailable":     p.InStock,
		"IsInStock":       p.InStock,
		"Brand":           p.Brand,
		"PackageSize":     p.PackageSize,
		"MediumImageFile": p.ImageURL,
		"CupString":       p.CupString,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
