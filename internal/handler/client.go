package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"license-server/internal/model"
	"license-server/internal/pkg/response"
	"license-server/internal/service"

	"github.com/gin-gonic/gin"
)

// ClientHandler 客户端（浏览器扩展）接口
type ClientHandler struct {
	licenses *service.LicenseService
	logger   *slog.Logger
}

func NewClientHandler(licenses *service.LicenseService, logger *slog.Logger) *ClientHandler {
	return &ClientHandler{licenses: licenses, logger: logger}
}

// ActivateRequest 激活请求
type ActivateRequest struct {
	Code              string           `json:"code" binding:"required,max=64"`
	DeviceFingerprint string           `json:"deviceFingerprint" binding:"required,max=255"`
	DeviceInfo        model.DeviceInfo `json:"deviceInfo"`
}

// CheckRequest 复查请求
type CheckRequest struct {
	LicenseID         string `json:"licenseId" binding:"required,max=64"`
	DeviceFingerprint string `json:"deviceFingerprint" binding:"required,max=255"`
	Token             string `json:"token"`
}

// ActivationResponse 激活/复查成功响应
type ActivationResponse struct {
	Success          bool      `json:"success"`
	LicenseID        string    `json:"licenseId"`
	Token            string    `json:"token,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	DaysRemaining    int       `json:"daysRemaining"`
	AllowedCountries []string  `json:"allowedCountries"`
}

type outcomeError struct {
	code    string
	message string
}

var outcomeErrors = map[service.Outcome]outcomeError{
	service.OutcomeInvalidCode:      {response.CodeInvalidCode, "授权码无效"},
	service.OutcomeLicenseNotFound:  {response.CodeLicenseNotFound, "授权不存在"},
	service.OutcomeRevoked:          {response.CodeLicenseRevoked, "授权已被吊销"},
	service.OutcomeExpired:          {response.CodeCodeExpired, "授权已过期"},
	service.OutcomeCapacityExceeded: {response.CodeCodeUsed, "授权设备数已达上限"},
	service.OutcomeDeviceBlocked:    {response.CodeDeviceBlocked, "设备已被封禁"},
	service.OutcomeDeviceNotFound:   {response.CodeDeviceNotFound, "设备未激活"},
	service.OutcomeInvalidToken:     {response.CodeInvalidToken, "设备令牌无效"},
}

func (h *ClientHandler) writeResult(c *gin.Context, result *service.ActivationResult) {
	if !result.OK() {
		writeOutcome(c, result.Outcome)
		return
	}
	c.JSON(http.StatusOK, ActivationResponse{
		Success:          true,
		LicenseID:        result.License.ID,
		Token:            result.Token,
		ExpiresAt:        result.ExpiresAt,
		DaysRemaining:    result.DaysRemaining,
		AllowedCountries: result.AllowedCountries,
	})
}

// writeOutcome 拒绝结果：不存在类 404，令牌 401，其余策略拒绝 403
func writeOutcome(c *gin.Context, o service.Outcome) {
	e, ok := outcomeErrors[o]
	if !ok {
		response.ServerError(c, "未知的处理结果")
		return
	}
	switch o {
	case service.OutcomeInvalidCode, service.OutcomeLicenseNotFound, service.OutcomeDeviceNotFound:
		response.NotFound(c, e.code, e.message)
	case service.OutcomeInvalidToken:
		response.Fail(c, http.StatusUnauthorized, e.code, e.message)
	default:
		response.Forbidden(c, e.code, e.message)
	}
}

func (h *ClientHandler) writeError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidRequest) {
		response.BadRequest(c, "参数错误")
		return
	}
	h.logger.Error("客户端请求处理失败", "path", c.FullPath(), "error", err)
	response.ServerError(c, "服务器内部错误")
}

// Activate 激活授权码
func (h *ClientHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.licenses.Activate(c.Request.Context(), service.ActivateInput{
		Code:        req.Code,
		Fingerprint: req.DeviceFingerprint,
		DeviceInfo:  req.DeviceInfo,
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeResult(c, result)
}

// Check 已激活设备复查
func (h *ClientHandler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.licenses.Check(c.Request.Context(), service.CheckInput{
		LicenseID:   req.LicenseID,
		Fingerprint: req.DeviceFingerprint,
		Token:       req.Token,
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeResult(c, result)
}

// ValidateRequest 旧版校验请求
type ValidateRequest struct {
	APIKey string `json:"apiKey"`
}

// Validate 旧版客户端使用的只读校验，不绑定设备
func (h *ClientHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "API key is required."})
		return
	}

	validity, license, err := h.licenses.ValidateCode(c.Request.Context(), req.APIKey)
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusOK, gin.H{"status": "invalid", "message": "Invalid API key."})
		return
	case err != nil:
		h.logger.Error("旧版校验失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Server error."})
		return
	}

	switch validity {
	case model.ValidityValid:
		c.JSON(http.StatusOK, gin.H{"status": "valid", "expiry": license.ExpiresAt})
	case model.ValidityExpired:
		c.JSON(http.StatusOK, gin.H{"status": "expired", "message": "Your license has expired."})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "invalid", "message": "License has been revoked."})
	}
}
