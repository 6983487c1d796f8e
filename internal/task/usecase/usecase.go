package usecase

import (
	"context"
	"errors"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/enrichment"
	"kyra-backend/internal/task/domain"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidStatus = errors.New("invalid task status")
	ErrEmailNotFound = errors.New("email not found")
)

// TaskUsecase defines the interface for task business logic
type TaskUsecase interface {
	// CreateTask creates a new task manually
	CreateTask(ctx context.Context, userID string, req CreateTaskRequest) (*domain.Task, error)

	// GetTaskByID retrieves a task by ID (with ownership check)
	GetTaskByID(ctx context.Context, userID, taskID string) (*domain.Task, error)

	// GetUserTasks retrieves all tasks for a user with optional status filter
	GetUserTasks(ctx context.Context, userID string, status *string, limit, offset int) ([]*domain.Task, int64, error)

	// UpdateTask updates an existing task
	UpdateTask(ctx context.Context, userID, taskID string, updates TaskUpdateRequest) (*domain.Task, error)

	// DeleteTask deletes a task
	DeleteTask(ctx context.Context, userID, taskID string) error

	// ExtractTaskFromEmail runs task detection on a stored email and saves the result
	ExtractTaskFromEmail(ctx context.Context, userID, emailID string) ([]*domain.Task, error)
}

// CreateTaskRequest represents the request body for creating a task
type CreateTaskRequest struct {
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description"`
	DueDate     *string `json:"due_date"`
	Priority    string  `json:"priority"`
	TaskType    string  `json:"task_type"`
	ReminderAt  *string `json:"reminder_at"`
}

// TaskUpdateRequest represents the fields that can be updated
type TaskUpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Status      *string `json:"status,omitempty"`
	ReminderAt  *string `json:"reminder_at,omitempty"`
}

// TaskDetector is the enrichment call used for on-demand extraction
type TaskDetector interface {
	DetectTask(ctx context.Context, text string) enrichment.TaskDetection
}

// EmailLookup loads the email a task is extracted from
type EmailLookup interface {
	FindByID(ctx context.Context, id string) (*emaildomain.Email, error)
}
