package preference

import (
	"net/http"

	"woolies-preferences/internal/core/shopping"
	"woolies-preferences/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MatchRequest 購物清單比對請求
type MatchRequest struct {
	Items []shopping.ListItem `json:"items" binding:"required,min=1,dive"`
}

// ImportCartRequest 購物車匯入請求
type ImportCartRequest struct {
	Items []shopping.CartItem `json:"items" binding:"required,min=1"`
}

// HandleMatch POST /users/:user_id/shopping-list/match
func (h *Handler) HandleMatch(c *gin.Context) {
	var req MatchRequest
	if !h.bind(c, &req) {
		return
	}

	userID := h.manager.User(c.Param("user_id"))
	common.LogInfo("開始比對購物清單",
		zap.String("user_id", userID),
		zap.Int("items", len(req.Items)),
		zap.String("request_id", requestid.Get(c)),
	)

	report, err := h.matcher.Match(c.Request.Context(), userID, req.Items)
	if err != nil {
		h.fail(c, err)
		return
	}

	common.LogInfo("購物清單比對完成",
		zap.String("user_id", userID),
		zap.Int("matched", report.TotalMatched),
		zap.Int("unmatched", report.TotalUnmatched),
	)
	c.JSON(http.StatusOK, report)
}

// HandleImportCart POST /users/:user_id/preferences/import-cart
func (h *Handler) HandleImportCart(c *gin.Context) {
	var req ImportCartRequest
	if !h.bind(c, &req) {
		return
	}
	report, err := h.manager.ImportFromCart(c.Request.Context(), c.Param("user_id"), req.Items)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
