package domain

import "time"

// ExecutionStatus is the lifecycle of a rule or action execution.
type ExecutionStatus string

const (
	// StatusPending is recorded before any provider call is attempted,
	// so a crash mid-execution is visible in the history.
	StatusPending ExecutionStatus = "PENDING"
	// StatusApplied means the primary action of the rule succeeded.
	StatusApplied ExecutionStatus = "APPLIED"
	// StatusSkipped means the rule matched but was intentionally not
	// executed (thread already handled, classifier returned an unknown
	// rule, mailbox no longer processable).
	StatusSkipped ExecutionStatus = "SKIPPED"
	// StatusError means the primary action failed.
	StatusError ExecutionStatus = "ERROR"
)

// ExecutedRule is the audit record for one message's rule evaluation.
// At most one exists per (mailbox, message) unless a rerun is requested.
type ExecutedRule struct {
	ID        string `json:"id" gorm:"primaryKey"`
	MailboxID string `json:"mailbox_id" gorm:"index:idx_exec_message;not null"`
	MessageID string `json:"message_id" gorm:"index:idx_exec_message;not null"`
	ThreadID  string `json:"thread_id" gorm:"index"`

	// RuleID is empty when no rule matched.
	RuleID string `json:"rule_id" gorm:"index"`

	Status ExecutionStatus `json:"status" gorm:"not null"`

	// Reason is the classifier's explanation, or a short internal note
	// for skips ("no candidate rules", "thread already executed").
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`

	Actions []ExecutedAction `json:"actions" gorm:"foreignKey:ExecutedRuleID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutedAction is the per-action outcome inside an ExecutedRule.
// Outcomes are independent: one failing action does not roll back its
// siblings.
type ExecutedAction struct {
	ID             string `json:"id" gorm:"primaryKey"`
	ExecutedRuleID string `json:"executed_rule_id" gorm:"index;not null"`
	ActionID       string `json:"action_id"`

	Type     ActionType      `json:"type"`
	Position int             `json:"position"`
	Status   ExecutionStatus `json:"status"`
	Error    string          `json:"error,omitempty"`

	// ProviderID is the provider-side artifact created by the action
	// (draft id, sent message id) when one exists.
	ProviderID string `json:"provider_id,omitempty"`
	Attempts   int    `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SentDraft tracks an AI-created draft so the scheduler can detect when
// the user actually sent it and follow up on the thread.
type SentDraft struct {
	ID        string `json:"id" gorm:"primaryKey"`
	MailboxID string `json:"mailbox_id" gorm:"index;not null"`
	ThreadID  string `json:"thread_id"`
	DraftID   string `json:"draft_id" gorm:"index;not null"`

	// Sent flips true once the draft no longer exists as a draft.
	Sent   time.Time `json:"sent,omitempty" gorm:"default:null"`
	IsSent bool      `json:"is_sent" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrackedThread marks a conversation the user asked to watch for
// replies via the TRACK_THREAD action.
type TrackedThread struct {
	ID        string `json:"id" gorm:"primaryKey"`
	MailboxID string `json:"mailbox_id" gorm:"index:idx_tracked_thread;not null"`
	ThreadID  string `json:"thread_id" gorm:"index:idx_tracked_thread;not null"`
	RuleID    string `json:"rule_id"`

	CreatedAt time.Time `json:"created_at"`
}

// DigestEntry queues a message summary for periodic digest delivery
// instead of immediate notification.
type DigestEntry struct {
	ID        string `json:"id" gorm:"primaryKey"`
	MailboxID string `json:"mailbox_id" gorm:"index;not null"`
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Snippet   string `json:"snippet"`

	Delivered bool `json:"delivered" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
}
