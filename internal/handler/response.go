package handler

import (
	"errors"
	"net/http"
	"shorturl-analytics/internal/apperr"
	"shorturl-analytics/internal/validate"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 成功响应的统一结构
type Response struct {
	Success bool   `json:"success" example:"true"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse 失败响应
type ErrorResponse struct {
	Error      string                `json:"error" example:"短链接不存在"`
	Details    []validate.FieldError `json:"details,omitempty"`
	Message    string                `json:"message,omitempty"`
	RetryAfter int                   `json:"retryAfter,omitempty"`
}

func respondOK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Response{Success: true, Data: data, Message: message})
}

// respondError 把 apperr 的类别映射为 HTTP 状态码。
// 内部错误只在开发模式下返回原始信息。
func respondError(c *gin.Context, err error, devMode bool) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	body := ErrorResponse{Error: apperr.Message(err)}

	switch kind {
	case apperr.Invalid:
		body.Error = "参数校验失败"
		var fieldErrs validate.FieldErrors
		if errors.As(err, &fieldErrs) {
			body.Details = fieldErrs
		} else {
			body.Message = apperr.Message(err)
		}
	case apperr.Internal, apperr.Unknown:
		zap.L().Error("请求处理失败", zap.String("path", c.Request.URL.Path), zap.Error(err))
		_ = c.Error(err)
		body.Error = "服务器内部错误"
		if devMode {
			body.Message = err.Error()
		}
	case apperr.Unavailable:
		zap.L().Warn("服务暂不可用", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "无效的请求数据", Message: err.Error()})
}
