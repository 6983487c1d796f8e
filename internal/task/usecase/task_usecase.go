package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kyra-backend/internal/enrichment"
	"kyra-backend/internal/task/domain"
	"kyra-backend/internal/task/repository"
)

// taskUsecase implements TaskUsecase interface
type taskUsecase struct {
	taskRepo repository.TaskRepository
	detector TaskDetector
	emails   EmailLookup
	log      *zap.Logger
	now      func() time.Time
}

// NewTaskUsecase creates a new instance of taskUsecase
func NewTaskUsecase(taskRepo repository.TaskRepository, detector TaskDetector, emails EmailLookup, log *zap.Logger) TaskUsecase {
	return &taskUsecase{
		taskRepo: taskRepo,
		detector: detector,
		emails:   emails,
		log:      log.Named("tasks"),
		now:      time.Now,
	}
}

func (u *taskUsecase) CreateTask(ctx context.Context, userID string, req CreateTaskRequest) (*domain.Task, error) {
	task := &domain.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.ParsePriority(req.Priority),
		TaskType:    domain.ParseTaskType(req.TaskType),
		Status:      domain.TaskStatusPending,
	}
	task.DueDate = parseTime(req.DueDate)
	task.ReminderAt = parseTime(req.ReminderAt)

	if err := u.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}

	return task, nil
}

func (u *taskUsecase) GetTaskByID(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	task, err := u.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.UserID != userID {
		return nil, ErrUnauthorized
	}
	return task, nil
}

func (u *taskUsecase) GetUserTasks(ctx context.Context, userID string, status *string, limit, offset int) ([]*domain.Task, int64, error) {
	var statusFilter *domain.TaskStatus
	if status != nil && *status != "" {
		s := domain.TaskStatus(*status)
		if !s.Valid() {
			return nil, 0, ErrInvalidStatus
		}
		statusFilter = &s
	}
	return u.taskRepo.FindByUserID(ctx, userID, statusFilter, limit, offset)
}

func (u *taskUsecase) UpdateTask(ctx context.Context, userID, taskID string, updates TaskUpdateRequest) (*domain.Task, error) {
	task, err := u.GetTaskByID(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if updates.Status != nil {
		s := domain.TaskStatus(*updates.Status)
		if !s.Valid() {
			return nil, ErrInvalidStatus
		}
		task.Status = s
	}
	if updates.Title != nil {
		task.Title = *updates.Title
	}
	if updates.Description != nil {
		task.Description = *updates.Description
	}
	if updates.Priority != nil {
		task.Priority = domain.ParsePriority(*updates.Priority)
	}
	if updates.DueDate != nil {
		if *updates.DueDate == "" {
			task.DueDate = nil
		} else if t := parseTime(updates.DueDate); t != nil {
			task.DueDate = t
		}
	}
	if updates.ReminderAt != nil {
		if *updates.ReminderAt == "" {
			task.ReminderAt = nil
			task.ReminderSent = false
		} else if t := parseTime(updates.ReminderAt); t != nil {
			task.ReminderAt = t
			task.ReminderSent = false // Reset reminder status when time changes
		}
	}

	if err := u.taskRepo.Update(ctx, task); err != nil {
		return nil, err
	}

	return task, nil
}

func (u *taskUsecase) DeleteTask(ctx context.Context, userID, taskID string) error {
	task, err := u.GetTaskByID(ctx, userID, taskID)
	if err != nil {
		return err
	}
	return u.taskRepo.Delete(ctx, task.ID)
}

func (u *taskUsecase) ExtractTaskFromEmail(ctx context.Context, userID, emailID string) ([]*domain.Task, error) {
	email, err := u.emails.FindByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, ErrEmailNotFound
	}
	if email.UserID != userID {
		return nil, ErrUnauthorized
	}

	det := u.detector.DetectTask(ctx, enrichment.TaskInput(email.Subject, email.BodyPlain))
	if det.Kind != enrichment.Parsed || !det.IsTask {
		u.log.Debug("no task found", zap.String("email_id", emailID), zap.String("kind", det.Kind.String()))
		return []*domain.Task{}, nil
	}

	title := det.Description
	if title == "" {
		title = email.Subject
	}
	task := &domain.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		EmailID:     &email.ID,
		Title:       enrichment.Truncate(title, 200),
		Description: det.Description,
		DueDate:     det.DueDate,
		Priority:    det.Priority,
		TaskType:    det.Type,
		Status:      domain.TaskStatusPending,
	}

	// Default reminder one hour before the due date
	if task.DueDate != nil {
		reminderTime := task.DueDate.Add(-1 * time.Hour)
		if reminderTime.After(u.now()) {
			task.ReminderAt = &reminderTime
		}
	}

	if err := u.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}
	u.log.Info("task extracted", zap.String("email_id", emailID), zap.String("task_id", task.ID))
	return []*domain.Task{task}, nil
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
