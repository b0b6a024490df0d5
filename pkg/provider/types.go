package provider

import "time"

// Kind identifies a mail back-end.
type Kind string

const (
	KindGmail   Kind = "gmail"
	KindOutlook Kind = "outlook"
)

// Message is the normalized representation of one email across providers.
type Message struct {
	ID         string
	ThreadID   string
	From       string
	FromName   string
	To         []string
	Cc         []string
	Subject    string
	Snippet    string
	TextBody   string
	HTMLBody   string
	Labels     []string
	Unread     bool
	InInbox    bool
	ReceivedAt time.Time
	// RFC 2822 Message-ID header, needed for threading replies.
	RFCMessageID string
	References   string
}

// Thread is a conversation with its messages in received order.
type Thread struct {
	ID       string
	Messages []*Message
}

// DraftParams describes a draft, reply or outgoing message.
type DraftParams struct {
	// ThreadID threads the draft into an existing conversation when set.
	ThreadID string
	// SourceMessageID is the message being replied to. Gmail threads via
	// ThreadID/InReplyTo instead; Graph replies against the message id.
	SourceMessageID string
	// InReplyTo carries the RFC Message-ID being answered.
	InReplyTo  string
	References string
	To         string
	Cc         string
	Subject    string
	Body       string
}

// ForwardParams describes a message forward.
type ForwardParams struct {
	MessageID string
	To        string
	Note      string
}

// Delta is the result of a history/delta listing since a cursor.
type Delta struct {
	NewMessageIDs []string
	NewCursor     string
}

// WatchInfo reports the state of a push subscription after (re)creation.
type WatchInfo struct {
	Cursor  string
	Expires time.Time
}
