package domain

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Category is the priority bucket derived from PriorityScore
type Category string

const (
	CategoryCritical    Category = "Critical"
	CategoryImportant   Category = "Important"
	CategoryFYI         Category = "FYI"
	CategoryNoise       Category = "Noise"
	CategoryUnprocessed Category = "Unprocessed"
)

// CategoryForScore maps a 0-100 score to its band.
// Critical 85-100, Important 60-84, FYI 30-59, Noise 0-29.
func CategoryForScore(score int) Category {
	switch {
	case score >= 85:
		return CategoryCritical
	case score >= 60:
		return CategoryImportant
	case score >= 30:
		return CategoryFYI
	default:
		return CategoryNoise
	}
}

// ClampScore bounds a model score to [0,100]
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Email is a synchronized message with its enrichment
type Email struct {
	ID            string           `json:"id" gorm:"primaryKey"`
	AccountID     string           `json:"account_id" gorm:"not null;uniqueIndex:idx_account_provider_id"`
	UserID        string           `json:"user_id" gorm:"index;not null"`
	ProviderID    string           `json:"provider_id" gorm:"not null;uniqueIndex:idx_account_provider_id"`
	ThreadID      string           `json:"thread_id" gorm:"index"`
	Sender        string           `json:"sender"`
	To            string           `json:"to"`
	Subject       string           `json:"subject"`
	BodyPlain     string           `json:"body_plain" gorm:"type:text"`
	Snippet       string           `json:"snippet" gorm:"type:text"`
	ReceivedAt    time.Time        `json:"received_at" gorm:"index"`
	PriorityScore int              `json:"priority_score" gorm:"index"`
	Category      Category         `json:"category" gorm:"default:Unprocessed"`
	Explanation   string           `json:"explanation"`
	Confidence    float64          `json:"confidence"`
	Embedding     *pgvector.Vector `json:"-" gorm:"type:vector(768)"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (Email) TableName() string {
	return "emails"
}

// Attachment belongs to an Email. ExtractedText is nil when no text could be pulled out.
type Attachment struct {
	ID                   string    `json:"id" gorm:"primaryKey"`
	EmailID              string    `json:"email_id" gorm:"index;not null"`
	ProviderAttachmentID string    `json:"provider_attachment_id"`
	Filename             string    `json:"filename"`
	ContentType          string    `json:"content_type"`
	Size                 int64     `json:"size"`
	ExtractedText        *string   `json:"extracted_text,omitempty" gorm:"type:text"`
	CreatedAt            time.Time `json:"created_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}

// EmailWithAttachments is the read model used by retrieval and the detail endpoint
type EmailWithAttachments struct {
	Email
	Attachments []Attachment `json:"attachments"`
}
