package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	emaildomain "kyra-backend/internal/email/domain"
	taskdomain "kyra-backend/internal/task/domain"
)

// PassWrite is everything one sync pass persists
type PassWrite struct {
	AccountID   string
	Emails      []emaildomain.Email
	Attachments []emaildomain.Attachment
	Tasks       []taskdomain.Task
	Summaries   []emaildomain.ThreadSummary
	Cursor      string
	SyncedAt    time.Time
}

// SyncStore commits a pass atomically
type SyncStore interface {
	CommitPass(ctx context.Context, w *PassWrite) error
}

type syncStore struct {
	db *gorm.DB
}

func NewSyncStore(db *gorm.DB) SyncStore {
	return &syncStore{db: db}
}

const insertBatchSize = 100

// CommitPass writes messages, attachments, tasks and summaries and moves the cursor
// in one transaction. Nothing is kept when any write fails.
//
// Messages are keyed by (account_id, provider_id). A message another pass already
// stored is skipped along with its attachments and tasks, and w is trimmed to what
// was written.
func (s *syncStore) CommitPass(ctx context.Context, w *PassWrite) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(w.Emails) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_id"}, {Name: "provider_id"}},
				DoNothing: true,
			}).CreateInBatches(&w.Emails, insertBatchSize).Error
			if err != nil {
				return err
			}
			if err := keepWritten(tx, w); err != nil {
				return err
			}
		}
		if len(w.Attachments) > 0 {
			if err := tx.CreateInBatches(&w.Attachments, insertBatchSize).Error; err != nil {
				return err
			}
		}
		if len(w.Tasks) > 0 {
			if err := tx.CreateInBatches(&w.Tasks, insertBatchSize).Error; err != nil {
				return err
			}
		}
		if len(w.Summaries) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "thread_id"}, {Name: "account_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"summary", "message_count", "last_updated_at"}),
			}).Create(&w.Summaries).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&emaildomain.Account{}).
			Where("id = ?", w.AccountID).
			Updates(map[string]interface{}{
				"sync_cursor":    w.Cursor,
				"last_synced_at": w.SyncedAt,
			}).Error
	})
}

// keepWritten drops the emails skipped on conflict, and the rows that hang off them
func keepWritten(tx *gorm.DB, w *PassWrite) error {
	ids := make([]string, 0, len(w.Emails))
	for _, e := range w.Emails {
		ids = append(ids, e.ID)
	}
	var found []string
	if err := tx.Model(&emaildomain.Email{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return err
	}
	if len(found) == len(w.Emails) {
		return nil
	}
	written := make(map[string]bool, len(found))
	for _, id := range found {
		written[id] = true
	}

	emails := w.Emails[:0]
	for _, e := range w.Emails {
		if written[e.ID] {
			emails = append(emails, e)
		}
	}
	w.Emails = emails

	atts := w.Attachments[:0]
	for _, a := range w.Attachments {
		if written[a.EmailID] {
			atts = append(atts, a)
		}
	}
	w.Attachments = atts

	tasks := w.Tasks[:0]
	for _, t := range w.Tasks {
		if t.EmailID == nil || written[*t.EmailID] {
			tasks = append(tasks, t)
		}
	}
	w.Tasks = tasks
	return nil
}
