package outlook

import (
	"fmt"
	"strings"
	"time"

	"mailpilot-backend/pkg/provider"
)

const messageSelect = "id,conversationId,subject,bodyPreview,body,from,toRecipients,ccRecipients,isRead,isDraft,receivedDateTime,internetMessageId,categories,parentFolderId"

type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversationId"`
	Subject           string           `json:"subject"`
	BodyPreview       string           `json:"bodyPreview"`
	IsRead            bool             `json:"isRead"`
	IsDraft           bool             `json:"isDraft"`
	ReceivedDateTime  string           `json:"receivedDateTime"`
	InternetMessageID string           `json:"internetMessageId"`
	Categories        []string         `json:"categories"`
	ParentFolderID    string           `json:"parentFolderId"`
	From              *graphRecipient  `json:"from"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	CcRecipients      []graphRecipient `json:"ccRecipients"`
	Body              *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

type deltaItem struct {
	ID      string                 `json:"id"`
	IsDraft bool                   `json:"isDraft"`
	Removed map[string]interface{} `json:"@removed"`
}

type deltaPage struct {
	Value     []deltaItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

func convertMessage(gm *graphMessage, inboxID string) *provider.Message {
	msg := &provider.Message{
		ID:           gm.ID,
		ThreadID:     gm.ConversationID,
		Subject:      gm.Subject,
		Snippet:      gm.BodyPreview,
		Labels:       gm.Categories,
		Unread:       !gm.IsRead,
		InInbox:      inboxID != "" && gm.ParentFolderID == inboxID,
		RFCMessageID: gm.InternetMessageID,
	}

	if gm.From != nil {
		msg.FromName = gm.From.EmailAddress.Name
		msg.From = formatAddress(gm.From.EmailAddress.Name, gm.From.EmailAddress.Address)
	}
	for _, r := range gm.ToRecipients {
		msg.To = append(msg.To, r.EmailAddress.Address)
	}
	for _, r := range gm.CcRecipients {
		msg.Cc = append(msg.Cc, r.EmailAddress.Address)
	}

	if gm.Body != nil {
		if strings.EqualFold(gm.Body.ContentType, "html") {
			msg.HTMLBody = gm.Body.Content
		} else {
			msg.TextBody = gm.Body.Content
		}
	}

	if t, err := time.Parse(time.RFC3339, gm.ReceivedDateTime); err == nil {
		msg.ReceivedAt = t
	}
	return msg
}

func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// newGraphDraft renders DraftParams as a Graph message object with a
// plain-text body.
func newGraphDraft(params provider.DraftParams) map[string]interface{} {
	to := make([]map[string]interface{}, 0, 1)
	for _, addr := range strings.Split(params.To, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		to = append(to, map[string]interface{}{
			"emailAddress": map[string]string{"address": addr},
		})
	}

	msg := map[string]interface{}{
		"subject":      params.Subject,
		"body":         map[string]string{"contentType": "text", "content": params.Body},
		"toRecipients": to,
	}

	if params.Cc != "" {
		var cc []map[string]interface{}
		for _, addr := range strings.Split(params.Cc, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			cc = append(cc, map[string]interface{}{
				"emailAddress": map[string]string{"address": addr},
			})
		}
		msg["ccRecipients"] = cc
	}
	return msg
}
