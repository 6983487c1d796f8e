package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	emaildomain "kyra-backend/internal/email/domain"
)

// AccountRepository defines the interface for connected mailbox operations.
// Credentials are stored exactly as given; sealing happens in the usecase.
type AccountRepository interface {
	// Upsert creates the account or refreshes credentials of the one with the same address
	Upsert(ctx context.Context, acct *emaildomain.Account) error
	FindByID(ctx context.Context, id string) (*emaildomain.Account, error)
	FindByEmail(ctx context.Context, email string) (*emaildomain.Account, error)
	FindByUserID(ctx context.Context, userID string) ([]*emaildomain.Account, error)
	FindAll(ctx context.Context) ([]*emaildomain.Account, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new instance of accountRepository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Upsert(ctx context.Context, acct *emaildomain.Account) error {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "provider", "access_token", "refresh_token", "token_expiry",
			"imap_server", "imap_port", "imap_password", "smtp_server", "smtp_port", "updated_at",
		}),
	}).Create(acct).Error
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*emaildomain.Account, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*emaildomain.Account, error) {
	return r.first(ctx, "email_address = ?", email)
}

func (r *accountRepository) first(ctx context.Context, query string, arg interface{}) (*emaildomain.Account, error) {
	var acct emaildomain.Account
	err := r.db.WithContext(ctx).Where(query, arg).First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acct, nil
}

func (r *accountRepository) FindByUserID(ctx context.Context, userID string) ([]*emaildomain.Account, error) {
	var accts []*emaildomain.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&accts).Error
	return accts, err
}

func (r *accountRepository) FindAll(ctx context.Context) ([]*emaildomain.Account, error) {
	var accts []*emaildomain.Account
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&accts).Error
	return accts, err
}

func (r *accountRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"token_expiry": expiry,
		"updated_at":   time.Now(),
	}
	// Google omits the refresh token on most refreshes
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.WithContext(ctx).Model(&emaildomain.Account{}).Where("id = ?", id).Updates(updates).Error
}
