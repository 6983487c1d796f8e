package domain

import "time"

// ThreadSummaryMinMessages is the thread size from which a summary is kept
const ThreadSummaryMinMessages = 3

// ThreadSummary is recomputed from every known message of the thread; last write wins
type ThreadSummary struct {
	ThreadID      string    `json:"thread_id" gorm:"primaryKey"`
	AccountID     string    `json:"account_id" gorm:"primaryKey"`
	Summary       string    `json:"summary" gorm:"type:text"`
	MessageCount  int       `json:"message_count"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func (ThreadSummary) TableName() string {
	return "thread_summaries"
}
