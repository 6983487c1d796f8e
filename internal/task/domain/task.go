package domain

import "time"

// Priority represents task priority level
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority maps free text onto a Priority, defaulting to medium
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityLow:
		return Priority(s)
	}
	return PriorityMedium
}

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusDone:
		return true
	}
	return false
}

// TaskType is what kind of action an email asks for
type TaskType string

const (
	TaskTypeDeadline TaskType = "deadline"
	TaskTypeMeeting  TaskType = "meeting"
	TaskTypeTask     TaskType = "task"
)

// ParseTaskType maps free text onto a TaskType, defaulting to task
func ParseTaskType(s string) TaskType {
	switch TaskType(s) {
	case TaskTypeDeadline, TaskTypeMeeting:
		return TaskType(s)
	}
	return TaskTypeTask
}

// Task represents a to-do item extracted from email or created manually
type Task struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"index;not null"`
	EmailID      *string    `json:"email_id,omitempty" gorm:"index"` // Optional link to source email
	Title        string     `json:"title" gorm:"not null"`
	Description  string     `json:"description,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty" gorm:"index"`
	Priority     Priority   `json:"priority" gorm:"default:medium"`
	Status       TaskStatus `json:"status" gorm:"default:pending;index"`
	TaskType     TaskType   `json:"task_type" gorm:"default:task"`
	ReminderAt   *time.Time `json:"reminder_at,omitempty"`              // When to send FCM reminder
	ReminderSent bool       `json:"reminder_sent" gorm:"default:false"` // Track if reminder was sent
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}
