package domain

import (
	"strings"
	"time"
)

// ActionType is one provider-side effect a rule can perform.
type ActionType string

const (
	ActionArchive     ActionType = "ARCHIVE"
	ActionLabel       ActionType = "LABEL"
	ActionDraftEmail  ActionType = "DRAFT_EMAIL"
	ActionReply       ActionType = "REPLY"
	ActionForward     ActionType = "FORWARD"
	ActionSendEmail   ActionType = "SEND_EMAIL"
	ActionMarkRead    ActionType = "MARK_READ"
	ActionMarkSpam    ActionType = "MARK_SPAM"
	ActionCallWebhook ActionType = "CALL_WEBHOOK"
	ActionMoveFolder  ActionType = "MOVE_FOLDER"
	ActionTrackThread ActionType = "TRACK_THREAD"
	ActionDigest      ActionType = "DIGEST"
)

// Action is owned by exactly one rule and executes in Position order.
// Parameter fields are type-specific; templates may contain
// {{placeholders}} filled from the message or the classifier's args.
type Action struct {
	ID       string     `json:"id" gorm:"primaryKey"`
	RuleID   string     `json:"rule_id" gorm:"index;not null"`
	Type     ActionType `json:"type" gorm:"not null"`
	Position int        `json:"position"`

	Label   string `json:"label,omitempty"`
	Folder  string `json:"folder,omitempty"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`

	// CALL_WEBHOOK parameters.
	URL    string `json:"url,omitempty"`
	Secret string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsGeneratedContent reports whether the action expects the
// classifier to produce body text.
func (a *Action) NeedsGeneratedContent() bool {
	switch a.Type {
	case ActionDraftEmail, ActionReply:
		return true
	case ActionSendEmail, ActionForward:
		return strings.Contains(a.Content, "{{")
	}
	return false
}

// RenderTemplate substitutes {{key}} placeholders from args into text.
func RenderTemplate(text string, args map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	for key, value := range args {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text
}
