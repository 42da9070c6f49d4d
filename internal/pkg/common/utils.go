package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GenerateUUID 生成 UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// WriteError 寫入錯誤響應，非 CustomError 一律視為內部錯誤
func WriteError(c *gin.Context, err error, debug bool) {
	ce, ok := AsCustomError(err)
	if !ok {
		ce = ErrInternalError.WithMessage(ErrInternalError.Message, err)
	}
	status := ce.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, ce.ToResponse(debug))
}
