package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailpilot-backend/internal/rule/domain"
)

// TrackingRepository persists draft-sent tracking, tracked threads and
// digest entries.
type TrackingRepository interface {
	CreateSentDraft(mailboxID, threadID, draftID string) error
	ListUnsentDrafts(mailboxID string) ([]domain.SentDraft, error)
	MarkDraftSent(id string) error

	TrackThread(mailboxID, threadID, ruleID string) error
	IsThreadTracked(mailboxID, threadID string) (bool, error)

	AddDigestEntry(entry *domain.DigestEntry) error
	PendingDigest(mailboxID string) ([]domain.DigestEntry, error)
	MarkDigestDelivered(ids []string) error
}

type trackingRepository struct {
	db *gorm.DB
}

func NewTrackingRepository(db *gorm.DB) TrackingRepository {
	return &trackingRepository{db: db}
}

func (r *trackingRepository) CreateSentDraft(mailboxID, threadID, draftID string) error {
	return r.db.Create(&domain.SentDraft{
		ID:        uuid.New().String(),
		MailboxID: mailboxID,
		ThreadID:  threadID,
		DraftID:   draftID,
	}).Error
}

func (r *trackingRepository) ListUnsentDrafts(mailboxID string) ([]domain.SentDraft, error) {
	var drafts []domain.SentDraft
	err := r.db.Where("mailbox_id = ? AND is_sent = ?", mailboxID, false).Find(&drafts).Error
	return drafts, err
}

func (r *trackingRepository) MarkDraftSent(id string) error {
	return r.db.Model(&domain.SentDraft{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_sent": true, "sent": time.Now()}).Error
}

func (r *trackingRepository) TrackThread(mailboxID, threadID, ruleID string) error {
	tracked, err := r.IsThreadTracked(mailboxID, threadID)
	if err != nil {
		return err
	}
	if tracked {
		return nil
	}
	return r.db.Create(&domain.TrackedThread{
		ID:        uuid.New().String(),
		MailboxID: mailboxID,
		ThreadID:  threadID,
		RuleID:    ruleID,
	}).Error
}

func (r *trackingRepository) IsThreadTracked(mailboxID, threadID string) (bool, error) {
	var count int64
	err := r.db.Model(&domain.TrackedThread{}).
		Where("mailbox_id = ? AND thread_id = ?", mailboxID, threadID).
		Count(&count).Error
	return count > 0, err
}

func (r *trackingRepository) AddDigestEntry(entry *domain.DigestEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return r.db.Create(entry).Error
}

func (r *trackingRepository) PendingDigest(mailboxID string) ([]domain.DigestEntry, error) {
	var entries []domain.DigestEntry
	err := r.db.Where("mailbox_id = ? AND delivered = ?", mailboxID, false).
		Order("created_at ASC").Find(&entries).Error
	return entries, err
}

func (r *trackingRepository) MarkDigestDelivered(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&domain.DigestEntry{}).Where("id IN ?", ids).
		Update("delivered", true).Error
}
