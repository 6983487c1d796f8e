package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation groups the turns of one chat thread
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Turn is one message of a conversation. Seq orders turns written in the same instant.
type Turn struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"index;not null"`
	Role           Role      `json:"role" gorm:"not null"`
	Content        string    `json:"content" gorm:"type:text"`
	Seq            int       `json:"seq"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

func (Turn) TableName() string {
	return "turns"
}
