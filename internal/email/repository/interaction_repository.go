package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	emaildomain "kyra-backend/internal/email/domain"
)

// InteractionRepository records user actions and generated digests
type InteractionRepository interface {
	CreateInteraction(ctx context.Context, in *emaildomain.Interaction) error
	CreateDigest(ctx context.Context, d *emaildomain.DailyDigest) error
	LatestDigest(ctx context.Context, userID string) (*emaildomain.DailyDigest, error)
}

type interactionRepository struct {
	db *gorm.DB
}

func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

func (r *interactionRepository) CreateInteraction(ctx context.Context, in *emaildomain.Interaction) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(in).Error
}

func (r *interactionRepository) CreateDigest(ctx context.Context, d *emaildomain.DailyDigest) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *interactionRepository) LatestDigest(ctx context.Context, userID string) (*emaildomain.DailyDigest, error) {
	var d emaildomain.DailyDigest
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("generated_at DESC").First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}
