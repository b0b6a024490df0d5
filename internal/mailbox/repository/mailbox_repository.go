package repository

import (
	"time"

	"gorm.io/gorm"

	"mailpilot-backend/internal/mailbox/domain"
)

// MailboxRepository provides access to connected accounts.
type MailboxRepository interface {
	FindByID(id string) (*domain.Mailbox, error)
	FindByEmail(email string) (*domain.Mailbox, error)
	ListActive() ([]domain.Mailbox, error)
	UpdateTokens(id, accessToken, refreshToken string) error
	SetStatus(id string, status domain.MailboxStatus) error
}

type mailboxRepository struct {
	db *gorm.DB
}

func NewMailboxRepository(db *gorm.DB) MailboxRepository {
	return &mailboxRepository{db: db}
}

func (r *mailboxRepository) FindByID(id string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := r.db.Where("id = ?", id).First(&mailbox).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

func (r *mailboxRepository) FindByEmail(email string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := r.db.Where("email = ?", email).First(&mailbox).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

func (r *mailboxRepository) ListActive() ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := r.db.Where("status = ?", domain.StatusActive).Find(&mailboxes).Error
	return mailboxes, err
}

func (r *mailboxRepository) UpdateTokens(id, accessToken, refreshToken string) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"updated_at":   time.Now(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.Model(&domain.Mailbox{}).Where("id = ?", id).Updates(updates).Error
}

func (r *mailboxRepository) SetStatus(id string, status domain.MailboxStatus) error {
	return r.db.Model(&domain.Mailbox{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
}
