package repository

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	emaildomain "kyra-backend/internal/email/domain"
)

// VectorIndex stores email embeddings in the emails table and searches them with
// the pgvector cosine distance operator
type VectorIndex struct {
	db *gorm.DB
}

func NewVectorIndex(db *gorm.DB) *VectorIndex {
	return &VectorIndex{db: db}
}

// StoreEmbedding writes the vector of one email owned by userID
func (v *VectorIndex) StoreEmbedding(ctx context.Context, userID, emailID string, vec []float32) error {
	emb := pgvector.NewVector(vec)
	return v.db.WithContext(ctx).Model(&emaildomain.Email{}).
		Where("id = ? AND user_id = ?", emailID, userID).
		Update("embedding", &emb).Error
}

// SearchSimilar returns the ids of the k emails of userID closest to vec
func (v *VectorIndex) SearchSimilar(ctx context.Context, userID string, vec []float32, k int) ([]string, error) {
	var ids []string
	err := v.db.WithContext(ctx).Model(&emaildomain.Email{}).
		Where("user_id = ? AND embedding IS NOT NULL", userID).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "embedding <=> ?",
			Vars:               []interface{}{pgvector.NewVector(vec)},
			WithoutParentheses: true,
		}}).
		Limit(k).
		Pluck("id", &ids).Error
	return ids, err
}
