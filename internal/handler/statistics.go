package handler

import (
	"log/slog"

	"license-server/internal/pkg/response"
	"license-server/internal/service"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	licenses *service.LicenseService
	logger   *slog.Logger
}

func NewStatisticsHandler(licenses *service.LicenseService, logger *slog.Logger) *StatisticsHandler {
	return &StatisticsHandler{licenses: licenses, logger: logger}
}

// Dashboard 授权与设备统计
func (h *StatisticsHandler) Dashboard(c *gin.Context) {
	stats, err := h.licenses.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("统计失败", "error", err)
		response.ServerError(c, "服务器内部错误")
		return
	}
	response.Success(c, stats)
}
