package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"woolies-preferences/internal/core/catalog"
	"woolies-preferences/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxSearchLimit = 36

// SearchResponse 商品搜尋響應
type SearchResponse struct {
	Query    string                    `json:"query"`
	Count    int                       `json:"count"`
	Products []catalog.ProductSnapshot `json:"products"`
}

// Handler 商品目錄 API
type Handler struct {
	gateway      catalog.Gateway
	defaultLimit int
	debug        bool
}

// NewHandler 創建處理器
func NewHandler(gw catalog.Gateway, defaultLimit int, debug bool) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 3
	}
	return &Handler{gateway: gw, defaultLimit: defaultLimit, debug: debug}
}

// HandleSearch GET /catalog/search?q=&limit=
func (h *Handler) HandleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		common.WriteError(c, common.ErrInvalidRequest.WithMessage("q query parameter is required", nil), h.debug)
		return
	}

	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchLimit {
			common.WriteError(c, common.ErrInvalidRequest.WithMessage("limit must be between 1 and 36", err), h.debug)
			return
		}
		limit = n
	}

	products, err := h.gateway.Search(c.Request.Context(), query, limit)
	if err != nil {
		common.LogWarn("Catalog search failed", zap.String("query", query), zap.Error(err))
		if errors.Is(err, catalog.ErrCatalogUnavailable) {
			common.WriteError(c, common.ErrCatalogUnavailable.WithMessage("catalog search unavailable, try again", err), h.debug)
			return
		}
		common.WriteError(c, common.ErrGatewayTimeout.WithMessage(common.ErrGatewayTimeout.Message, err), h.debug)
		return
	}
	if products == nil {
		products = []catalog.ProductSnapshot{}
	}

	c.JSON(http.StatusOK, SearchResponse{Query: query, Count: len(products), Products: products})
}
