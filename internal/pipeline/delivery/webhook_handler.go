package delivery

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailpilot-backend/internal/pipeline/usecase"
)

// WebhookHandler receives provider push notifications. Both endpoints
// acknowledge immediately and hand the work to the dispatcher: a slow
// response makes Gmail and Graph retry, which only multiplies load.
type WebhookHandler struct {
	dispatcher *usecase.Dispatcher

	// gmailPushToken is the shared secret appended to the Pub/Sub push
	// endpoint URL as ?token=...
	gmailPushToken string
	// outlookClientState is echoed by Graph in every notification.
	outlookClientState string
}

func NewWebhookHandler(dispatcher *usecase.Dispatcher, gmailPushToken, outlookClientState string) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:         dispatcher,
		gmailPushToken:     gmailPushToken,
		outlookClientState: outlookClientState,
	}
}

// pubSubEnvelope is the Pub/Sub push wrapper around a Gmail notification.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification is the decoded data field of a Gmail push message.
type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// HandleGmail processes a Pub/Sub push delivery. The notification only
// names the account and a history id; the pipeline refetches the actual
// delta from its own committed cursor, so the payload is a wake-up call,
// not a data source.
func (h *WebhookHandler) HandleGmail(c *gin.Context) {
	if !h.verifyToken(c.Query("token")) {
		log.Println("[Webhook] Gmail push with bad token, rejecting")
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		return
	}

	var envelope pubSubEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message data"})
		return
	}

	var notification gmailNotification
	if err := json.Unmarshal(data, &notification); err != nil || notification.EmailAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	h.dispatcher.Notify(notification.EmailAddress)
	// Ack so Pub/Sub stops redelivering. Duplicates are harmless; the
	// processing claim absorbs them.
	c.Status(http.StatusNoContent)
}

// graphNotification is one change notification from Microsoft Graph.
type graphNotification struct {
	Value []struct {
		SubscriptionID string `json:"subscriptionId"`
		ClientState    string `json:"clientState"`
		ChangeType     string `json:"changeType"`
		Resource       string `json:"resource"`
	} `json:"value"`
}

// HandleOutlook processes Graph change notifications. Graph validates
// new subscriptions by calling the endpoint with ?validationToken=...,
// expecting the token echoed back as plain text.
func (h *WebhookHandler) HandleOutlook(c *gin.Context) {
	if token := c.Query("validationToken"); token != "" {
		c.String(http.StatusOK, token)
		return
	}

	mailbox := c.Query("mailbox")
	if mailbox == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing mailbox"})
		return
	}

	var notification graphNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	for _, item := range notification.Value {
		if subtle.ConstantTimeCompare([]byte(item.ClientState), []byte(h.outlookClientState)) != 1 {
			log.Println("[Webhook] Graph notification with bad clientState, rejecting")
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid clientState"})
			return
		}
	}

	h.dispatcher.Notify(mailbox)
	// Graph expects 202 within 3 seconds or it retries.
	c.Status(http.StatusAccepted)
}

func (h *WebhookHandler) verifyToken(token string) bool {
	if h.gmailPushToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.gmailPushToken)) == 1
}
