package domain

import "time"

// MailboxStatus is the processing health of a connected account.
type MailboxStatus string

const (
	// StatusActive mailboxes are processed normally.
	StatusActive MailboxStatus = "active"
	// StatusAuthError means the grant is expired or revoked; all
	// processing stops until the user re-consents (outside the core).
	StatusAuthError MailboxStatus = "auth_error"
	// StatusDisabled mailboxes are switched off by the user.
	StatusDisabled MailboxStatus = "disabled"
)

// Mailbox is one connected email account under automation.
type Mailbox struct {
	ID       string `json:"id" gorm:"primaryKey"`
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Provider string `json:"provider" gorm:"not null"` // "gmail" or "outlook"

	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`

	// AboutContext is the user's "about me" text given to the
	// classifier so generated replies sound like them.
	AboutContext string `json:"about_context"`

	Status MailboxStatus `json:"status" gorm:"default:active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanProcess reports whether the pipeline may touch this mailbox.
func (m *Mailbox) CanProcess() bool {
	return m.Status == StatusActive
}
