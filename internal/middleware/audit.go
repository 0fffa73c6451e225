package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"license-server/internal/model"
	"license-server/internal/store"

	"github.com/gin-gonic/gin"
)

const auditWriteTimeout = 5 * time.Second

// Auditor 记录管理端写操作，异步写入；Wait 等待未完成的写入
type Auditor struct {
	sink   store.AuditStore
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewAuditor(sink store.AuditStore, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{sink: sink, logger: logger}
}

// Wait 阻塞直到所有已提交的审计记录写完，关闭服务时调用
func (a *Auditor) Wait() {
	a.wg.Wait()
}

// Middleware 审计中间件，只记录写请求
func (a *Auditor) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			c.Next()
			return
		}

		startTime := time.Now()

		var requestBody string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			requestBody = string(bodyBytes)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		c.Next()

		action, resource, resourceID := parseActionFromPath(method, c.Request.URL.Path)
		entry := &model.AuditLog{
			Action:       action,
			Resource:     resource,
			ResourceID:   resourceID,
			Description:  generateDescription(action, resource),
			IPAddress:    c.ClientIP(),
			UserAgent:    truncateString(c.Request.UserAgent(), 500),
			RequestBody:  truncateString(requestBody, 2000),
			ResponseCode: c.Writer.Status(),
			Duration:     time.Since(startTime).Milliseconds(),
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			defer cancel()
			if err := a.sink.Record(ctx, entry); err != nil {
				a.logger.Warn("写入审计日志失败", "action", entry.Action, "resource_id", entry.ResourceID, "error", err)
			}
		}()
	}
}

// parseActionFromPath 从路径解析操作类型，如 /api/admin/licenses/:id/revoke
func parseActionFromPath(method, path string) (action, resource, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	for i, part := range parts {
		switch part {
		case "licenses":
			resource = model.ResourceLicense
			if i+1 < len(parts) {
				resourceID = parts[i+1]
			}
		case "devices":
			resource = model.ResourceDevice
		}
	}

	switch method {
	case http.MethodPost:
		switch {
		case strings.HasSuffix(path, "/unrevoke"):
			action = model.ActionUnrevoke
		case strings.HasSuffix(path, "/revoke"):
			action = model.ActionRevoke
		case strings.HasSuffix(path, "/block"):
			action = model.ActionBlock
		default:
			action = model.ActionCreate
		}
	case http.MethodPut, http.MethodPatch:
		action = model.ActionUpdate
	case http.MethodDelete:
		action = model.ActionDelete
	default:
		action = strings.ToLower(method)
	}
	return
}

func generateDescription(action, resource string) string {
	actionMap := map[string]string{
		model.ActionCreate:   "创建",
		model.ActionUpdate:   "更新",
		model.ActionDelete:   "删除",
		model.ActionRevoke:   "吊销",
		model.ActionUnrevoke: "恢复",
		model.ActionBlock:    "封禁",
	}
	resourceMap := map[string]string{
		model.ResourceLicense: "授权",
		model.ResourceDevice:  "设备",
	}

	a := actionMap[action]
	if a == "" {
		a = action
	}
	r := resourceMap[resource]
	if r == "" {
		r = resource
	}
	return a + r
}

// truncateString 截断到 maxLen 字节以内（含省略号），不切断多字节字符
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	const ellipsis = "..."
	cut := maxLen - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
