package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	authrepo "kyra-backend/internal/auth/repository"
	"kyra-backend/internal/task/domain"
	"kyra-backend/internal/task/repository"
	"kyra-backend/pkg/fcm"
)

// TaskReminderScheduler sends push reminders for tasks whose reminder time has passed
type TaskReminderScheduler struct {
	taskRepo repository.TaskRepository
	fcmRepo  authrepo.FCMTokenRepository
	sender   fcm.Sender
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
	stopChan chan struct{}
}

// NewTaskReminderScheduler creates a new scheduler
func NewTaskReminderScheduler(
	taskRepo repository.TaskRepository,
	fcmRepo authrepo.FCMTokenRepository,
	sender fcm.Sender,
	log *zap.Logger,
) *TaskReminderScheduler {
	return &TaskReminderScheduler{
		taskRepo: taskRepo,
		fcmRepo:  fcmRepo,
		sender:   sender,
		interval: 1 * time.Minute,
		log:      log.Named("task_scheduler"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *TaskReminderScheduler) Start(ctx context.Context) {
	if s.sender == nil {
		s.log.Warn("push sender not available, reminders disabled")
		return
	}

	s.log.Info("starting task reminder scheduler", zap.Duration("interval", s.interval))

	go func() {
		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				return
			case <-s.stopChan:
				s.log.Info("scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *TaskReminderScheduler) Stop() {
	close(s.stopChan)
}

// RunOnce sends every due reminder and marks it sent
func (s *TaskReminderScheduler) RunOnce(ctx context.Context) {
	tasks, err := s.taskRepo.FindPendingReminders(ctx, s.now())
	if err != nil {
		s.log.Error("failed to find pending reminders", zap.Error(err))
		return
	}
	if len(tasks) == 0 {
		return
	}

	s.log.Info("sending task reminders", zap.Int("count", len(tasks)))
	for _, task := range tasks {
		s.remind(ctx, task)
	}
}

func (s *TaskReminderScheduler) remind(ctx context.Context, task *domain.Task) {
	tokens, err := s.fcmRepo.GetTokensByUserID(ctx, task.UserID)
	if err != nil {
		s.log.Error("failed to load device tokens", zap.String("user_id", task.UserID), zap.Error(err))
		return
	}

	if len(tokens) > 0 {
		failed, err := s.sender.SendToDevices(ctx, authrepo.TokenStrings(tokens), reminderNotification(task))
		if err != nil {
			s.log.Warn("failed to send reminder", zap.String("task_id", task.ID), zap.Error(err))
		}
		for _, token := range failed {
			if err := s.fcmRepo.DeleteToken(ctx, token); err != nil {
				s.log.Warn("failed to delete stale token", zap.Error(err))
			}
		}
	}

	// Marked regardless of delivery so a dead device does not cause repeats
	if err := s.taskRepo.MarkReminderSent(ctx, task.ID); err != nil {
		s.log.Error("failed to mark reminder sent", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func reminderNotification(task *domain.Task) fcm.Notification {
	body := task.Description
	if body == "" {
		body = "You have a task to finish"
	}
	if task.DueDate != nil {
		body = fmt.Sprintf("%s\nDue: %s", body, task.DueDate.Format("Jan 2, 15:04"))
	}

	return fcm.Notification{
		Title: "Reminder: " + task.Title,
		Body:  body,
		Link:  "/tasks",
		Data: map[string]string{
			"type":     "task_reminder",
			"task_id":  task.ID,
			"priority": string(task.Priority),
		},
	}
}
