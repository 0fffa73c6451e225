package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"license-server/internal/config"
)

// Notifier 授权事件通知
type Notifier interface {
	Notify(event WebhookEvent, data map[string]interface{})
}

type nopNotifier struct{}

func (nopNotifier) Notify(WebhookEvent, map[string]interface{}) {}

// WebhookEvent 事件类型
type WebhookEvent string

const (
	EventLicenseCreated   WebhookEvent = "license.created"
	EventLicenseActivated WebhookEvent = "license.activated"
	EventLicenseRevoked   WebhookEvent = "license.revoked"
	EventLicenseUnrevoked WebhookEvent = "license.unrevoked"
	EventLicenseDeleted   WebhookEvent = "license.deleted"
	EventDeviceBound      WebhookEvent = "device.bound"
	EventDeviceBlocked    WebhookEvent = "device.blocked"
)

// WebhookPayload Webhook 负载
type WebhookPayload struct {
	Event     WebhookEvent           `json:"event"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// WebhookService 将事件异步推送到配置的地址
type WebhookService struct {
	endpoints []config.WebhookConfig
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewWebhookService 创建 Webhook 服务
func NewWebhookService(endpoints []config.WebhookConfig, timeout time.Duration, logger *slog.Logger) *WebhookService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		now:       time.Now,
	}
}

// Notify 推送事件，不阻塞调用方
func (s *WebhookService) Notify(event WebhookEvent, data map[string]interface{}) {
	if len(s.endpoints) == 0 {
		return
	}

	payload, err := json.Marshal(WebhookPayload{
		Event:     event,
		Timestamp: s.now().Unix(),
		Data:      data,
	})
	if err != nil {
		s.logger.Error("序列化 Webhook 负载失败", "event", event, "error", err)
		return
	}

	for _, ep := range s.endpoints {
		if !subscribed(ep, event) {
			continue
		}
		s.wg.Add(1)
		go func(ep config.WebhookConfig) {
			defer s.wg.Done()
			if err := s.send(context.Background(), ep, payload); err != nil {
				s.logger.Warn("Webhook 推送失败", "event", event, "url", ep.URL, "error", err)
			}
		}(ep)
	}
}

// Wait 等待已发出的推送结束
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

func subscribed(ep config.WebhookConfig, event WebhookEvent) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, e := range ep.Events {
		if e == string(event) || e == "*" {
			return true
		}
	}
	return false
}

func (s *WebhookService) send(ctx context.Context, ep config.WebhookConfig, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Timestamp", s.now().UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", GenerateSignature(ep.Secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// GenerateSignature 生成 HMAC-SHA256 签名（hex）
func GenerateSignature(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
