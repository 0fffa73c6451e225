package handler

import (
	"errors"
	"log/slog"
	"time"

	"license-server/internal/pkg/response"
	"license-server/internal/service"

	"github.com/gin-gonic/gin"
)

// LicenseHandler 管理端授权接口
type LicenseHandler struct {
	licenses *service.LicenseService
	logger   *slog.Logger
}

func NewLicenseHandler(licenses *service.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{licenses: licenses, logger: logger}
}

// GenerateRequest 生成授权请求
type GenerateRequest struct {
	ExpirationDays   int      `json:"expirationDays"`
	MaxDevices       int      `json:"maxDevices" binding:"min=0,max=10000"`
	AllowedCountries []string `json:"allowedCountries"`
	CustomerEmail    string   `json:"customerEmail" binding:"max=255"`
	CustomerName     string   `json:"customerName" binding:"max=255"`
	Notes            string   `json:"notes"`
}

// EditRequest 修改授权请求，未出现的字段不修改
type EditRequest struct {
	ExpiresAt        *time.Time `json:"expiresAt"`
	AllowedCountries []string   `json:"allowedCountries"`
	MaxDevices       *int       `json:"maxDevices"`
	CustomerEmail    *string    `json:"customerEmail"`
	CustomerName     *string    `json:"customerName"`
	Notes            *string    `json:"notes"`
}

// ListRequest 列表查询参数
type ListRequest struct {
	Filter   string `form:"filter"`
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// BlockDeviceRequest 封禁设备请求
type BlockDeviceRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
}

func (h *LicenseHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, response.CodeLicenseNotFound, "授权不存在")
	default:
		h.logger.Error("管理请求处理失败", "path", c.FullPath(), "error", err)
		response.ServerError(c, "服务器内部错误")
	}
}

// Create 生成授权码
func (h *LicenseHandler) Create(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	license, err := h.licenses.Generate(c.Request.Context(), service.GenerateInput{
		ExpirationDays:   req.ExpirationDays,
		MaxDevices:       req.MaxDevices,
		AllowedCountries: req.AllowedCountries,
		CustomerEmail:    req.CustomerEmail,
		CustomerName:     req.CustomerName,
		Notes:            req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, license)
}

// List 授权列表
func (h *LicenseHandler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.licenses.List(c.Request.Context(), service.ListInput{
		Filter:   req.Filter,
		Search:   req.Search,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.SuccessPage(c, result.Items, result.Total, result.Page, result.PageSize)
}

// Get 授权详情
func (h *LicenseHandler) Get(c *gin.Context) {
	license, err := h.licenses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, license)
}

// Update 修改授权
func (h *LicenseHandler) Update(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	license, err := h.licenses.Edit(c.Request.Context(), c.Param("id"), service.EditInput{
		ExpiresAt:        req.ExpiresAt,
		AllowedCountries: req.AllowedCountries,
		MaxDevices:       req.MaxDevices,
		CustomerEmail:    req.CustomerEmail,
		CustomerName:     req.CustomerName,
		Notes:            req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, license)
}

// Delete 删除授权
func (h *LicenseHandler) Delete(c *gin.Context) {
	if err := h.licenses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// Revoke 吊销授权
func (h *LicenseHandler) Revoke(c *gin.Context) {
	license, err := h.licenses.Revoke(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, license)
}

// Unrevoke 恢复授权
func (h *LicenseHandler) Unrevoke(c *gin.Context) {
	license, err := h.licenses.Unrevoke(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, license)
}

// BlockDevice 封禁设备
func (h *LicenseHandler) BlockDevice(c *gin.Context) {
	var req BlockDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	license, err := h.licenses.BlockDevice(c.Request.Context(), c.Param("id"), req.Fingerprint)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, license)
}
