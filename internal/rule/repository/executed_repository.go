package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailpilot-backend/internal/rule/domain"
)

// ExecutedRuleRepository persists the audit trail of the pipeline.
type ExecutedRuleRepository interface {
	// FindByMessage returns the existing execution record for a message,
	// or nil when the message has never been processed.
	FindByMessage(mailboxID, messageID string) (*domain.ExecutedRule, error)
	// HasThreadExecution reports whether any message in the thread
	// already has an APPLIED execution of the given rule.
	HasThreadExecution(mailboxID, threadID, ruleID string) (bool, error)
	// Create inserts a new record; callers set Status to PENDING before
	// touching the provider.
	Create(record *domain.ExecutedRule) error
	// Finalize updates the record status, reason, and action outcomes.
	Finalize(record *domain.ExecutedRule) error
	// Delete removes a record so a rerun can replace it.
	Delete(id string) error
	// ListByMailbox returns recent executions, newest first.
	ListByMailbox(mailboxID string, limit int) ([]domain.ExecutedRule, error)
}

type executedRuleRepository struct {
	db *gorm.DB
}

func NewExecutedRuleRepository(db *gorm.DB) ExecutedRuleRepository {
	return &executedRuleRepository{db: db}
}

func (r *executedRuleRepository) FindByMessage(mailboxID, messageID string) (*domain.ExecutedRule, error) {
	var record domain.ExecutedRule
	err := r.db.Preload("Actions").
		Where("mailbox_id = ? AND message_id = ?", mailboxID, messageID).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *executedRuleRepository) HasThreadExecution(mailboxID, threadID, ruleID string) (bool, error) {
	var count int64
	err := r.db.Model(&domain.ExecutedRule{}).
		Where("mailbox_id = ? AND thread_id = ? AND rule_id = ? AND status = ?",
			mailboxID, threadID, ruleID, domain.StatusApplied).
		Count(&count).Error
	return count > 0, err
}

func (r *executedRuleRepository) Create(record *domain.ExecutedRule) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	for i := range record.Actions {
		if record.Actions[i].ID == "" {
			record.Actions[i].ID = uuid.New().String()
		}
		record.Actions[i].ExecutedRuleID = record.ID
	}
	return r.db.Create(record).Error
}

func (r *executedRuleRepository) Finalize(record *domain.ExecutedRule) error {
	record.UpdatedAt = time.Now()
	return r.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(record).Error
}

func (r *executedRuleRepository) Delete(id string) error {
	if err := r.db.Where("executed_rule_id = ?", id).Delete(&domain.ExecutedAction{}).Error; err != nil {
		return err
	}
	return r.db.Where("id = ?", id).Delete(&domain.ExecutedRule{}).Error
}

func (r *executedRuleRepository) ListByMailbox(mailboxID string, limit int) ([]domain.ExecutedRule, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []domain.ExecutedRule
	err := r.db.Preload("Actions").
		Where("mailbox_id = ?", mailboxID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
