package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestConvertMessageMultipart(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		Snippet:      "Hello there",
		LabelIds:     []string{"INBOX", "UNREAD"},
		InternalDate: 1700000000000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice Smith <alice@example.com>"},
				{Name: "To", Value: "me@mailpilot.dev, other@mailpilot.dev"},
				{Name: "subject", Value: "Hello"},
				{Name: "Message-ID", Value: "<abc@mail.example.com>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("plain body")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html body</p>")}},
			},
		},
	}

	got := convertMessage(msg)

	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "t1", got.ThreadID)
	assert.Equal(t, "Alice Smith <alice@example.com>", got.From)
	assert.Equal(t, "Alice Smith", got.FromName)
	assert.Equal(t, []string{"me@mailpilot.dev", "other@mailpilot.dev"}, got.To)
	// Header lookup is case-insensitive.
	assert.Equal(t, "Hello", got.Subject)
	assert.Equal(t, "plain body", got.TextBody)
	assert.Equal(t, "<p>html body</p>", got.HTMLBody)
	assert.True(t, got.Unread)
	assert.True(t, got.InInbox)
	assert.Equal(t, "<abc@mail.example.com>", got.RFCMessageID)
}

func TestConvertMessageNestedParts(t *testing.T) {
	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("nested plain")}},
					},
				},
			},
		},
	}

	got := convertMessage(msg)
	assert.Equal(t, "nested plain", got.TextBody)
}

func TestConvertMessageSinglePartBody(t *testing.T) {
	msg := &gmail.Message{
		Id: "m3",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Body:     &gmail.MessagePartBody{Data: b64("just text")},
		},
	}

	got := convertMessage(msg)
	assert.Equal(t, "just text", got.TextBody)
	assert.Equal(t, "", got.HTMLBody)
}

func TestConvertMessageNoPayload(t *testing.T) {
	msg := &gmail.Message{
		Id:       "m4",
		ThreadId: "t4",
		Snippet:  "metadata only",
		LabelIds: []string{"INBOX"},
	}

	got := convertMessage(msg)
	assert.Equal(t, "m4", got.ID)
	assert.Equal(t, "metadata only", got.Snippet)
	assert.Equal(t, "", got.From)
	assert.True(t, got.InInbox)
}

func TestParseHistoryID(t *testing.T) {
	id, err := parseHistoryID("12345")
	assert.NoError(t, err)
	assert.Equal(t, uint64(12345), id)

	_, err = parseHistoryID("")
	assert.Error(t, err)

	_, err = parseHistoryID("not-a-number")
	assert.Error(t, err)
}
