package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"license-server/internal/pkg/response"
	"license-server/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		outcome service.Outcome
		status  int
		code    string
	}{
		{service.OutcomeInvalidCode, http.StatusNotFound, response.CodeInvalidCode},
		{service.OutcomeLicenseNotFound, http.StatusNotFound, response.CodeLicenseNotFound},
		{service.OutcomeDeviceNotFound, http.StatusNotFound, response.CodeDeviceNotFound},
		{service.OutcomeRevoked, http.StatusForbidden, response.CodeLicenseRevoked},
		{service.OutcomeExpired, http.StatusForbidden, response.CodeCodeExpired},
		{service.OutcomeCapacityExceeded, http.StatusForbidden, response.CodeCodeUsed},
		{service.OutcomeDeviceBlocked, http.StatusForbidden, response.CodeDeviceBlocked},
		{service.OutcomeInvalidToken, http.StatusUnauthorized, response.CodeInvalidToken},
		{service.Outcome("SOMETHING_NEW"), http.StatusInternalServerError, response.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeOutcome(c, tt.outcome)

			assert.Equal(t, tt.status, w.Code)
			var body response.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}
