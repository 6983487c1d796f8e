package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	emaildomain "kyra-backend/internal/email/domain"
)

// EmailFilter narrows an email listing
type EmailFilter struct {
	Category emaildomain.Category
	Limit    int
	Offset   int
}

// EmailCounts are the raw counters behind the dashboard
type EmailCounts struct {
	Urgent int64
	Inbox  int64
	Total  int64
}

// EmailRepository defines the interface for stored email access
type EmailRepository interface {
	// ExistingProviderIDs returns which of ids are already stored for the account
	ExistingProviderIDs(ctx context.Context, accountID string, ids []string) (map[string]bool, error)
	// CountByThreads returns the stored message count per thread id
	CountByThreads(ctx context.Context, accountID string, threadIDs []string) (map[string]int, error)
	// FindThread returns the stored messages of a thread, oldest first
	FindThread(ctx context.Context, accountID, threadID string) ([]emaildomain.Email, error)
	// FindLatestInThread returns the n most recent messages of a user's thread, oldest first
	FindLatestInThread(ctx context.Context, userID, threadID string, n int) ([]emaildomain.Email, error)
	FindByID(ctx context.Context, id string) (*emaildomain.Email, error)
	// FindWithAttachments loads emails and their attachments, keeping the order of ids
	FindWithAttachments(ctx context.Context, userID string, ids []string) ([]emaildomain.EmailWithAttachments, error)
	List(ctx context.Context, userID string, filter EmailFilter) ([]*emaildomain.Email, int64, error)
	FindMissingEmbedding(ctx context.Context, userID string, limit int) ([]*emaildomain.Email, error)
	FindImportantSince(ctx context.Context, userID string, minScore int, since time.Time) ([]*emaildomain.Email, error)
	Counts(ctx context.Context, userID string, urgentScore, inboxScore int, since time.Time) (*EmailCounts, error)
	SetEmbedding(ctx context.Context, emailID string, vec []float32) error
}

type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new instance of emailRepository
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) ExistingProviderIDs(ctx context.Context, accountID string, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(ids) == 0 {
		return existing, nil
	}
	var found []string
	err := r.db.WithContext(ctx).Model(&emaildomain.Email{}).
		Where("account_id = ? AND provider_id IN ?", accountID, ids).
		Pluck("provider_id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (r *emailRepository) CountByThreads(ctx context.Context, accountID string, threadIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(threadIDs))
	if len(threadIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		ThreadID string
		Count    int
	}
	err := r.db.WithContext(ctx).Model(&emaildomain.Email{}).
		Select("thread_id, COUNT(*) AS count").
		Where("account_id = ? AND thread_id IN ?", accountID, threadIDs).
		Group("thread_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ThreadID] = row.Count
	}
	return counts, nil
}

func (r *emailRepository) FindThread(ctx context.Context, accountID, threadID string) ([]emaildomain.Email, error) {
	var emails []emaildomain.Email
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND thread_id = ?", accountID, threadID).
		Order("received_at ASC").
		Find(&emails).Error
	return emails, err
}

func (r *emailRepository) FindLatestInThread(ctx context.Context, userID, threadID string, n int) ([]emaildomain.Email, error) {
	var emails []emaildomain.Email
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("received_at DESC").
		Limit(n).
		Find(&emails).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(emails)-1; i < j; i, j = i+1, j-1 {
		emails[i], emails[j] = emails[j], emails[i]
	}
	return emails, nil
}

func (r *emailRepository) FindByID(ctx context.Context, id string) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) FindWithAttachments(ctx context.Context, userID string, ids []string) ([]emaildomain.EmailWithAttachments, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var emails []emaildomain.Email
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id IN ?", userID, ids).Find(&emails).Error; err != nil {
		return nil, err
	}
	var atts []emaildomain.Attachment
	if err := r.db.WithContext(ctx).Where("email_id IN ?", ids).Order("created_at ASC").Find(&atts).Error; err != nil {
		return nil, err
	}

	byEmail := make(map[string][]emaildomain.Attachment)
	for _, a := range atts {
		byEmail[a.EmailID] = append(byEmail[a.EmailID], a)
	}
	byID := make(map[string]emaildomain.Email, len(emails))
	for _, e := range emails {
		byID[e.ID] = e
	}

	out := make([]emaildomain.EmailWithAttachments, 0, len(emails))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, emaildomain.EmailWithAttachments{Email: e, Attachments: byEmail[id]})
	}
	return out, nil
}

func (r *emailRepository) List(ctx context.Context, userID string, filter EmailFilter) ([]*emaildomain.Email, int64, error) {
	var emails []*emaildomain.Email
	var total int64

	query := r.db.WithContext(ctx).Model(&emaildomain.Email{}).Where("user_id = ?", userID)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("received_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	err := query.Find(&emails).Error
	return emails, total, err
}

func (r *emailRepository) FindMissingEmbedding(ctx context.Context, userID string, limit int) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	query := r.db.WithContext(ctx).Where("embedding IS NULL")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("received_at DESC").Find(&emails).Error
	return emails, err
}

func (r *emailRepository) FindImportantSince(ctx context.Context, userID string, minScore int, since time.Time) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND priority_score >= ? AND received_at >= ?", userID, minScore, since).
		Order("priority_score DESC").
		Find(&emails).Error
	return emails, err
}

func (r *emailRepository) Counts(ctx context.Context, userID string, urgentScore, inboxScore int, since time.Time) (*EmailCounts, error) {
	var counts EmailCounts
	err := r.db.WithContext(ctx).Model(&emaildomain.Email{}).
		Select(`COUNT(*) FILTER (WHERE priority_score >= ? AND received_at >= ?) AS urgent,
			COUNT(*) FILTER (WHERE priority_score >= ?) AS inbox,
			COUNT(*) AS total`, urgentScore, since, inboxScore).
		Where("user_id = ?", userID).
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

func (r *emailRepository) SetEmbedding(ctx context.Context, emailID string, vec []float32) error {
	v := pgvector.NewVector(vec)
	return r.db.WithContext(ctx).Model(&emaildomain.Email{}).
		Where("id = ?", emailID).
		Update("embedding", &v).Error
}
