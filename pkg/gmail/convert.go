package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"mailpilot-backend/pkg/provider"
)

func convertMessage(msg *gmail.Message) *provider.Message {
	// Metadata-format fetches come back without a payload.
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	from := getHeader(headers, "From")
	fromName := from
	// Extract name from "Name <email@example.com>" format
	if idx := strings.Index(from, "<"); idx > 0 {
		fromName = strings.TrimSpace(from[:idx])
	}

	plain, html := getBodies(msg.Payload)

	return &provider.Message{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		From:         from,
		FromName:     fromName,
		To:           splitAddresses(getHeader(headers, "To")),
		Cc:           splitAddresses(getHeader(headers, "Cc")),
		Subject:      getHeader(headers, "Subject"),
		Snippet:      msg.Snippet,
		TextBody:     plain,
		HTMLBody:     html,
		Labels:       msg.LabelIds,
		Unread:       hasLabel(msg.LabelIds, "UNREAD"),
		InInbox:      hasLabel(msg.LabelIds, "INBOX"),
		ReceivedAt:   time.Unix(msg.InternalDate/1000, 0),
		RFCMessageID: getHeader(headers, "Message-ID"),
		References:   getHeader(headers, "References"),
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// getBodies walks the MIME tree collecting the text/plain and text/html
// parts separately; callers pick whichever they need.
func getBodies(payload *gmail.MessagePart) (plain, html string) {
	if payload == nil {
		return "", ""
	}

	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			if payload.MimeType == "text/html" {
				return "", string(data)
			}
			return string(data), ""
		}
	}

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := base64.URLEncoding.DecodeString(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/html":
						html = string(data)
					case "text/plain":
						plain = string(data)
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}
	findBody(payload.Parts)
	return plain, html
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}

func splitAddresses(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
