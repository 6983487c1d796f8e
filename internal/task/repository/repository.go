package repository

import (
	"context"
	"time"

	"kyra-backend/internal/task/domain"
)

// TaskRepository defines the interface for task data access
type TaskRepository interface {
	// Create creates a new task
	Create(ctx context.Context, task *domain.Task) error

	// FindByID finds a task by its ID
	FindByID(ctx context.Context, id string) (*domain.Task, error)

	// FindByUserID finds all tasks for a user with optional filters
	FindByUserID(ctx context.Context, userID string, status *domain.TaskStatus, limit, offset int) ([]*domain.Task, int64, error)

	// FindPending returns the user's pending tasks, earliest due date first, undated last
	FindPending(ctx context.Context, userID string, limit int) ([]*domain.Task, error)

	// CountPending counts pending tasks; with a non-nil dueBefore only those due by then
	CountPending(ctx context.Context, userID string, dueBefore *time.Time) (int64, error)

	// Update updates an existing task
	Update(ctx context.Context, task *domain.Task) error

	// Delete deletes a task by ID
	Delete(ctx context.Context, id string) error

	// FindPendingReminders finds tasks that need reminder notifications:
	// reminder_at <= now AND reminder_sent = false AND status != done
	FindPendingReminders(ctx context.Context, now time.Time) ([]*domain.Task, error)

	// MarkReminderSent marks a task's reminder as sent
	MarkReminderSent(ctx context.Context, id string) error
}
