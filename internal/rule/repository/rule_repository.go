package repository

import (
	"gorm.io/gorm"

	"mailpilot-backend/internal/rule/domain"
)

// RuleRepository provides read access to the automation rules of a
// mailbox. Rule CRUD lives in the management API, not here.
type RuleRepository interface {
	ListEnabled(mailboxID string) ([]domain.Rule, error)
	FindByID(id string) (*domain.Rule, error)
}

type ruleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) ListEnabled(mailboxID string) ([]domain.Rule, error) {
	var rules []domain.Rule
	err := r.db.Preload("Actions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where("mailbox_id = ? AND enabled = ?", mailboxID, true).Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepository) FindByID(id string) (*domain.Rule, error) {
	var rule domain.Rule
	err := r.db.Preload("Actions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where("id = ?", id).First(&rule).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
