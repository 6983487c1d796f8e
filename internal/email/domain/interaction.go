package domain

import "time"

type InteractionAction string

const (
	ActionOpen    InteractionAction = "open"
	ActionReply   InteractionAction = "reply"
	ActionArchive InteractionAction = "archive"
	ActionStar    InteractionAction = "star"
)

func (a InteractionAction) Valid() bool {
	switch a {
	case ActionOpen, ActionReply, ActionArchive, ActionStar:
		return true
	}
	return false
}

// Interaction records how the user handled an email
type Interaction struct {
	ID        string            `json:"id" gorm:"primaryKey"`
	UserID    string            `json:"user_id" gorm:"index;not null"`
	EmailID   string            `json:"email_id" gorm:"index;not null"`
	Action    InteractionAction `json:"action" gorm:"not null"`
	CreatedAt time.Time         `json:"created_at"`
}

func (Interaction) TableName() string {
	return "interactions"
}

// DailyDigest is a generated morning briefing
type DailyDigest struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"index;not null"`
	Content     string    `json:"content" gorm:"type:text"`
	GeneratedAt time.Time `json:"generated_at" gorm:"index"`
}

func (DailyDigest) TableName() string {
	return "daily_digests"
}

// DashboardStats backs the home screen counters
type DashboardStats struct {
	Urgent        int64 `json:"urgent"`
	PendingTasks  int64 `json:"pending_tasks"`
	UpcomingTasks int64 `json:"upcoming_tasks"`
	Inbox         int64 `json:"inbox"`
	Total         int64 `json:"total"`
}
