package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidCode     = "INVALID_CODE"
	CodeLicenseNotFound = "LICENSE_NOT_FOUND"
	CodeLicenseRevoked  = "LICENSE_REVOKED"
	CodeCodeExpired     = "CODE_EXPIRED"
	CodeCodeUsed        = "CODE_USED"
	CodeDeviceNotFound  = "DEVICE_NOT_FOUND"
	CodeDeviceBlocked   = "DEVICE_BLOCKED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeServerError     = "SERVER_ERROR"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PageData 分页数据
type PageData struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Created 创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMessage 成功响应带消息
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: PageData{
			List:     list,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		},
	})
}

// Fail 失败响应
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error:   code,
		Message: message,
	})
}

// AbortFail 失败响应并中止后续处理
func AbortFail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   code,
		Message: message,
	})
}

// BadRequest 参数错误
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeInvalidRequest, message)
}

// Unauthorized 未授权
func Unauthorized(c *gin.Context, message string) {
	AbortFail(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden 策略拒绝
func Forbidden(c *gin.Context, code, message string) {
	Fail(c, http.StatusForbidden, code, message)
}

// NotFound 资源不存在
func NotFound(c *gin.Context, code, message string) {
	Fail(c, http.StatusNotFound, code, message)
}

// TooManyRequests 请求过于频繁
func TooManyRequests(c *gin.Context, message string) {
	AbortFail(c, http.StatusTooManyRequests, CodeTooManyRequests, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeServerError, message)
}
