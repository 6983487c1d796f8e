package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatdomain "kyra-backend/internal/chat/domain"
)

// ConversationRepository stores chat history
type ConversationRepository interface {
	Create(ctx context.Context, conv *chatdomain.Conversation) error
	FindByID(ctx context.Context, id string) (*chatdomain.Conversation, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*chatdomain.Conversation, error)
	ListTurns(ctx context.Context, conversationID string) ([]*chatdomain.Turn, error)
	// AppendTurns writes the turns and touches the conversation in one transaction
	AppendTurns(ctx context.Context, conversationID string, turns []*chatdomain.Turn) error
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv *chatdomain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (*chatdomain.Conversation, error) {
	var conv chatdomain.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*chatdomain.Conversation, error) {
	var convs []*chatdomain.Conversation
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&convs).Error
	return convs, err
}

func (r *conversationRepository) ListTurns(ctx context.Context, conversationID string) ([]*chatdomain.Turn, error) {
	var turns []*chatdomain.Turn
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, seq ASC").
		Find(&turns).Error
	return turns, err
}

func (r *conversationRepository) AppendTurns(ctx context.Context, conversationID string, turns []*chatdomain.Turn) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range turns {
			if t.ID == "" {
				t.ID = uuid.New().String()
			}
			t.ConversationID = conversationID
		}
		if err := tx.Create(&turns).Error; err != nil {
			return err
		}
		return tx.Model(&chatdomain.Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
}
