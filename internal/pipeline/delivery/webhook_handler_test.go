package delivery

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot-backend/internal/pipeline/usecase"
)

func newTestRouter() (*gin.Engine, *WebhookHandler) {
	gin.SetMode(gin.TestMode)
	dispatcher := usecase.NewDispatcher(nil, 1)
	handler := NewWebhookHandler(dispatcher, "push-token", "client-state")

	r := gin.New()
	r.POST("/api/webhooks/gmail", handler.HandleGmail)
	r.POST("/api/webhooks/outlook", handler.HandleOutlook)
	r.GET("/api/webhooks/outlook", handler.HandleOutlook)
	return r, handler
}

func gmailEnvelope(t *testing.T, email string, historyID uint64) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"emailAddress": email,
		"historyId":    historyID,
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"message": map[string]interface{}{
			"data":      base64.StdEncoding.EncodeToString(data),
			"messageId": "pubsub-1",
		},
		"subscription": "projects/p/subscriptions/s",
	})
	require.NoError(t, err)
	return body
}

func TestHandleGmailAcceptsValidPush(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gmail?token=push-token",
		bytes.NewReader(gmailEnvelope(t, "user@example.com", 42)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleGmailRejectsBadToken(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gmail?token=wrong",
		bytes.NewReader(gmailEnvelope(t, "user@example.com", 42)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleGmailRejectsMalformedData(t *testing.T) {
	r, _ := newTestRouter()

	body, _ := json.Marshal(map[string]interface{}{
		"message": map[string]interface{}{"data": "not-base64!!!"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gmail?token=push-token", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleOutlookValidationHandshake(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/outlook?validationToken=echo-me-back", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo-me-back", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestHandleOutlookAcceptsValidNotification(t *testing.T) {
	r, _ := newTestRouter()

	body, _ := json.Marshal(map[string]interface{}{
		"value": []map[string]interface{}{
			{"subscriptionId": "sub1", "clientState": "client-state", "changeType": "created"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/outlook?mailbox=user@example.com", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleOutlookRejectsBadClientState(t *testing.T) {
	r, _ := newTestRouter()

	body, _ := json.Marshal(map[string]interface{}{
		"value": []map[string]interface{}{
			{"subscriptionId": "sub1", "clientState": "forged", "changeType": "created"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/outlook?mailbox=user@example.com", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleOutlookRequiresMailboxParam(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/outlook", bytes.NewReader([]byte(`{"value":[]}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
