package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"license-server/internal/config"
	"license-server/internal/metrics"
	"license-server/internal/middleware"
	"license-server/internal/model"
	"license-server/internal/service"
	"license-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminSecret = "0123456789abcdef-admin"

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	audit  *store.MemoryAuditStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Admin.Header = "X-Admin-Secret"
	cfg.Admin.Secret = adminSecret
	cfg.Security.EnableSecurityHeaders = true

	registry := prometheus.NewRegistry()
	recorder := metrics.NewProm("license", registry)
	audit := store.NewMemoryAuditStore()

	licenses := service.NewLicenseService(store.NewMemoryStore(time.Second), service.Options{
		TokenSecret: "token-secret",
		Metrics:     recorder,
	})

	r := gin.New()
	SetupRouter(r, Dependencies{
		Config:   cfg,
		Licenses: licenses,
		Audit:    middleware.NewAuditor(audit, nil),
		Metrics:  recorder,
		Gatherer: registry,
	})
	return &testServer{t: t, engine: r, audit: audit}
}

func (s *testServer) do(method, path string, body interface{}, admin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Secret", adminSecret)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

// generate 通过管理接口生成授权
func (s *testServer) generate(body map[string]interface{}) model.License {
	s.t.Helper()
	w, _ := s.do(http.MethodPost, "/api/admin/licenses", body, true)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data model.License `json:"data"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestAdminRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(http.MethodGet, "/api/admin/licenses", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
	assert.Equal(t, false, body["success"])

	w, _ = s.do(http.MethodPost, "/api/admin/licenses", map[string]interface{}{}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, s.audit.Entries(), "rejected requests never reach audit")
}

func TestActivateFlow(t *testing.T) {
	s := newTestServer(t)
	lic := s.generate(map[string]interface{}{"expirationDays": 30, "maxDevices": 1})
	assert.Equal(t, 1, lic.MaxDevices)

	w, body := s.do(http.MethodPost, "/api/activate", map[string]interface{}{
		"code":              lic.Code,
		"deviceFingerprint": "A",
		"deviceInfo":        map[string]interface{}{"browser": "Chrome", "hardwareConcurrency": 8},
	}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, lic.ID, body["licenseId"])
	assert.EqualValues(t, 30, body["daysRemaining"])
	assert.NotEmpty(t, body["token"])
	assert.Len(t, body["allowedCountries"], 3)
	token := body["token"].(string)

	w, body = s.do(http.MethodPost, "/api/activate", map[string]interface{}{
		"code": lic.Code, "deviceFingerprint": "B",
	}, false)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "CODE_USED", body["error"])

	w, body = s.do(http.MethodPost, "/api/check", map[string]interface{}{
		"licenseId": lic.ID, "deviceFingerprint": "A", "token": token,
	}, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, body = s.do(http.MethodPost, "/api/check", map[string]interface{}{
		"licenseId": lic.ID, "deviceFingerprint": "C",
	}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "DEVICE_NOT_FOUND", body["error"])

	w, body = s.do(http.MethodPost, "/api/check", map[string]interface{}{
		"licenseId": lic.ID, "deviceFingerprint": "A", "token": "garbage",
	}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", body["error"])
}

func TestActivateErrors(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(http.MethodPost, "/api/activate", map[string]interface{}{"code": "X"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", body["error"])

	w, body = s.do(http.MethodPost, "/api/activate", map[string]interface{}{"code": " ", "deviceFingerprint": "A"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", body["error"])

	w, body = s.do(http.MethodPost, "/api/activate", map[string]interface{}{"code": "NOPE-NOPE-NOPE-NOPE", "deviceFingerprint": "A"}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "INVALID_CODE", body["error"])

	w, body = s.do(http.MethodPost, "/api/check", map[string]interface{}{"licenseId": "missing", "deviceFingerprint": "A"}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "LICENSE_NOT_FOUND", body["error"])
}

func TestAdminLifecycle(t *testing.T) {
	s := newTestServer(t)
	lic := s.generate(map[string]interface{}{"maxDevices": 2, "customerEmail": "a@example.com"})
	base := "/api/admin/licenses/" + lic.ID

	s.do(http.MethodPost, "/api/activate", map[string]interface{}{"code": lic.Code, "deviceFingerprint": "A"}, false)

	w, body := s.do(http.MethodPost, base+"/revoke", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["data"].(map[string]interface{})["revoked"])

	w, body = s.do(http.MethodPost, "/api/activate", map[string]interface{}{"code": lic.Code, "deviceFingerprint": "A"}, false)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "LICENSE_REVOKED", body["error"])

	w, _ = s.do(http.MethodPost, base+"/unrevoke", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, base+"/devices/block", map[string]interface{}{"fingerprint": "A"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	w, body = s.do(http.MethodPost, "/api/check", map[string]interface{}{"licenseId": lic.ID, "deviceFingerprint": "A"}, false)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "DEVICE_BLOCKED", body["error"])

	w, _ = s.do(http.MethodPost, base+"/devices/block", map[string]interface{}{"fingerprint": "ghost"}, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(http.MethodPut, base, map[string]interface{}{"notes": "edited", "maxDevices": 0}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", body["error"])

	w, body = s.do(http.MethodPut, base, map[string]interface{}{"notes": "edited", "expiresAt": "2030-01-01T00:00:00Z"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "edited", data["notes"])
	assert.Equal(t, "a@example.com", data["customerEmail"])
	assert.Equal(t, "2030-01-01T00:00:00Z", data["expiresAt"])

	w, body = s.do(http.MethodGet, base, nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	devices := body["data"].(map[string]interface{})["devices"].([]interface{})
	require.Len(t, devices, 1)
	assert.Equal(t, true, devices[0].(map[string]interface{})["blocked"])

	w, body = s.do(http.MethodGet, "/api/admin/stats", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	stats := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["total"])
	assert.EqualValues(t, 1, stats["devices"])

	w, _ = s.do(http.MethodDelete, base, nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	w, body = s.do(http.MethodGet, base, nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "LICENSE_NOT_FOUND", body["error"])

	for _, path := range []string{base + "/revoke", base + "/unrevoke"} {
		w, _ = s.do(http.MethodPost, path, nil, true)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	assert.Eventually(t, func() bool { return len(s.audit.Entries()) >= 8 }, time.Second, 10*time.Millisecond)
}

func TestAdminList(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		s.generate(map[string]interface{}{"customerName": "acme"})
	}
	s.generate(map[string]interface{}{"customerName": "other"})

	w, body := s.do(http.MethodGet, "/api/admin/licenses?search=ACME&page=1&pageSize=2", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.EqualValues(t, 3, data["total"])
	assert.EqualValues(t, 2, data["pageSize"])
	assert.Len(t, data["list"], 2)

	w, _ = s.do(http.MethodGet, "/api/admin/licenses?filter=bogus", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/admin/licenses?page=abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLegacyValidate(t *testing.T) {
	s := newTestServer(t)
	lic := s.generate(map[string]interface{}{"expirationDays": 5})

	w, body := s.do(http.MethodPost, "/api/validate", map[string]interface{}{"apiKey": lic.Code}, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "valid", body["status"])
	assert.NotEmpty(t, body["expiry"])

	_, body = s.do(http.MethodPost, "/api/validate", map[string]interface{}{"apiKey": "nope"}, false)
	assert.Equal(t, "invalid", body["status"])

	w, body = s.do(http.MethodPost, "/api/validate", map[string]interface{}{}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", body["status"])

	s.do(http.MethodPost, "/api/admin/licenses/"+lic.ID+"/revoke", nil, true)
	_, body = s.do(http.MethodPost, "/api/validate", map[string]interface{}{"apiKey": lic.Code}, false)
	assert.Equal(t, "invalid", body["status"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	s.do(http.MethodPost, "/api/activate", map[string]interface{}{"code": "NOPE-NOPE-NOPE-NOPE", "deviceFingerprint": "A"}, false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `license_activations_total{outcome="INVALID_CODE"} 1`)
	assert.Contains(t, rec.Body.String(), "license_http_requests_total")
}
