package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	emaildomain "kyra-backend/internal/email/domain"
)

// ThreadSummaryRepository reads thread summaries; they are written by the sync commit
type ThreadSummaryRepository interface {
	Find(ctx context.Context, accountID, threadID string) (*emaildomain.ThreadSummary, error)
	FindByThread(ctx context.Context, userID, threadID string) (*emaildomain.ThreadSummary, error)
}

type threadSummaryRepository struct {
	db *gorm.DB
}

func NewThreadSummaryRepository(db *gorm.DB) ThreadSummaryRepository {
	return &threadSummaryRepository{db: db}
}

func (r *threadSummaryRepository) Find(ctx context.Context, accountID, threadID string) (*emaildomain.ThreadSummary, error) {
	var s emaildomain.ThreadSummary
	err := r.db.WithContext(ctx).Where("account_id = ? AND thread_id = ?", accountID, threadID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindByThread resolves the summary through the user's accounts
func (r *threadSummaryRepository) FindByThread(ctx context.Context, userID, threadID string) (*emaildomain.ThreadSummary, error) {
	var s emaildomain.ThreadSummary
	err := r.db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.id = thread_summaries.account_id").
		Where("accounts.user_id = ? AND thread_summaries.thread_id = ?", userID, threadID).
		Order("thread_summaries.last_updated_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
