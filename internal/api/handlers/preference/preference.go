package preference

import (
	"context"
	"errors"
	"net/http"

	"woolies-preferences/internal/core/shopping"
	"woolies-preferences/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetPrimaryRequest 設定主要商品請求
type SetPrimaryRequest struct {
	Stockcode int64 `json:"stockcode"`
}

// SetFallbacksRequest 取代備選清單請求，空陣列代表清除
type SetFallbacksRequest struct {
	Stockcodes []int64 `json:"stockcodes" binding:"required"`
}

// AddFallbackRequest 加入備選請求
type AddFallbackRequest struct {
	Stockcode int64 `json:"stockcode"`
}

// ListResponse 偏好列表響應
type ListResponse struct {
	UserID      string      `json:"user_id"`
	Count       int         `json:"count"`
	Preferences interface{} `json:"preferences"`
}

// Handler 偏好相關 API
type Handler struct {
	manager *shopping.Manager
	matcher *shopping.Matcher
	debug   bool
}

// NewHandler 創建處理器
func NewHandler(manager *shopping.Manager, matcher *shopping.Matcher, debug bool) *Handler {
	return &Handler{manager: manager, matcher: matcher, debug: debug}
}

// HandleList GET /users/:user_id/preferences
func (h *Handler) HandleList(c *gin.Context) {
	userID := h.manager.User(c.Param("user_id"))
	records, err := h.manager.ListPreferences(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{UserID: userID, Count: len(records), Preferences: records})
}

// HandleSetPrimary PUT /users/:user_id/preferences/:ingredient/primary
func (h *Handler) HandleSetPrimary(c *gin.Context) {
	var req SetPrimaryRequest
	if !h.bind(c, &req) {
		return
	}
	reply, err := h.manager.SetPrimary(c.Request.Context(), c.Param("user_id"), c.Param("ingredient"), req.Stockcode)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// HandleSetFallbacks PUT /users/:user_id/preferences/:ingredient/fallbacks
func (h *Handler) HandleSetFallbacks(c *gin.Context) {
	var req SetFallbacksRequest
	if !h.bind(c, &req) {
		return
	}
	reply, err := h.manager.SetFallbacks(c.Request.Context(), c.Param("user_id"), c.Param("ingredient"), req.Stockcodes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// HandleAddFallback POST /users/:user_id/preferences/:ingredient/fallbacks
func (h *Handler) HandleAddFallback(c *gin.Context) {
	var req AddFallbackRequest
	if !h.bind(c, &req) {
		return
	}
	reply, err := h.manager.AddFallback(c.Request.Context(), c.Param("user_id"), c.Param("ingredient"), req.Stockcode)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// HandleRemove DELETE /users/:user_id/preferences/:ingredient
func (h *Handler) HandleRemove(c *gin.Context) {
	reply, err := h.manager.RemovePreference(c.Request.Context(), c.Param("user_id"), c.Param("ingredient"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// HandleResolve GET /users/:user_id/resolve?ingredient=
func (h *Handler) HandleResolve(c *gin.Context) {
	ingredient := c.Query("ingredient")
	if ingredient == "" {
		common.WriteError(c, common.ErrInvalidRequest.WithMessage("ingredient query parameter is required", nil), h.debug)
		return
	}
	result, err := h.manager.Resolve(c.Request.Context(), c.Param("user_id"), ingredient)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// bind 解析 JSON 請求體，失敗時直接寫出 400
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		common.LogWarn("請求格式無效",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", requestid.Get(c)),
		)
		common.WriteError(c, common.ErrInvalidRequest.WithMessage("Invalid request format", err), h.debug)
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	err = requestError(err)
	if ce, ok := common.AsCustomError(err); !ok || ce.Status >= http.StatusInternalServerError {
		common.LogError("Request failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", requestid.Get(c)),
		)
	}
	common.WriteError(c, err, h.debug)
}

// requestError 將上下文錯誤轉為對應的 API 錯誤
func requestError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		if _, ok := common.AsCustomError(err); !ok {
			return common.ErrGatewayTimeout.WithMessage(common.ErrGatewayTimeout.Message, err)
		}
	case errors.Is(err, context.Canceled):
		if _, ok := common.AsCustomError(err); !ok {
			return common.ErrRequestTimeout.WithMessage("request cancelled", err)
		}
	}
	return err
}
