package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/email/repository"
	taskdomain "kyra-backend/internal/task/domain"
	"kyra-backend/pkg/cache"
	"kyra-backend/pkg/calendar"
	"kyra-backend/pkg/fuzzy"
)

const (
	UrgentScore      = 70
	InboxScore       = 30
	statsKeyPrefix   = "stats_"
	maxFuzzyScan     = 500
	defaultPageLimit = 50
)

// ErrInvalidTimeRange rejects calendar ranges that end before they start
var ErrInvalidTimeRange = errors.New("end must be after start")

// EmailUsecase serves the stored, enriched mailbox to the API
type EmailUsecase interface {
	ListEmails(ctx context.Context, userID string, q ListQuery) ([]*emaildomain.Email, int64, error)
	GetEmail(ctx context.Context, userID, emailID string) (*EmailDetail, error)
	GetThreadSummary(ctx context.Context, userID, threadID string) (*emaildomain.ThreadSummary, error)
	RecordInteraction(ctx context.Context, userID, emailID string, action emaildomain.InteractionAction) (*emaildomain.Interaction, error)

	ListAccounts(ctx context.Context, userID string) ([]*emaildomain.Account, error)
	SendEmail(ctx context.Context, userID string, req SendRequest) (string, error)
	WatchAccount(ctx context.Context, userID, accountID string) (uint64, error)

	DashboardStats(ctx context.Context, userID string) (*emaildomain.DashboardStats, error)
	GenerateDigest(ctx context.Context, userID string) (*emaildomain.DailyDigest, error)
	LatestDigest(ctx context.Context, userID string) (*emaildomain.DailyDigest, error)
	DraftReply(ctx context.Context, userID string, req DraftRequest) (*DraftResult, error)

	UpcomingEvents(ctx context.Context, userID string, days int) ([]calendar.Event, error)
	CreateEvent(ctx context.Context, userID string, in calendar.NewEvent) (*calendar.Event, error)
	CheckConflicts(ctx context.Context, userID string, start, end time.Time) (*calendar.ConflictReport, error)
}

// ListQuery filters the email listing; Q turns on fuzzy matching
type ListQuery struct {
	Category emaildomain.Category
	Q        string
	Limit    int
	Offset   int
}

// EmailDetail is an email with what was derived from it
type EmailDetail struct {
	Email         *emaildomain.Email         `json:"email"`
	Attachments   []emaildomain.Attachment   `json:"attachments"`
	ThreadSummary *emaildomain.ThreadSummary `json:"thread_summary,omitempty"`
}

type SendRequest struct {
	AccountID string   `json:"account_id" binding:"required"`
	To        []string `json:"to" binding:"required,min=1"`
	Cc        []string `json:"cc"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body" binding:"required"`
	ThreadID  string   `json:"thread_id"`
}

type DraftRequest struct {
	ThreadID string `json:"thread_id"`
	Prompt   string `json:"prompt" binding:"required"`
	Tone     string `json:"tone"`
}

type DraftResult struct {
	DraftBody string `json:"draft_body"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// TaskReader is the part of the task store the dashboard and digest read
type TaskReader interface {
	FindPending(ctx context.Context, userID string, limit int) ([]*taskdomain.Task, error)
	CountPending(ctx context.Context, userID string, dueBefore *time.Time) (int64, error)
}

// Calendar reads and writes events on an account's calendar
type Calendar interface {
	ListUpcoming(ctx context.Context, acct *emaildomain.Account, days int) ([]calendar.Event, error)
	CreateEvent(ctx context.Context, acct *emaildomain.Account, in calendar.NewEvent) (*calendar.Event, error)
	Conflicts(ctx context.Context, acct *emaildomain.Account, start, end time.Time) (*calendar.ConflictReport, error)
}

// MailboxWatcher starts provider push notifications for an account
type MailboxWatcher interface {
	Watch(ctx context.Context, acct *emaildomain.Account, topicName string) (uint64, error)
}

// EmailUsecaseDeps groups the collaborators of the email usecase
type EmailUsecaseDeps struct {
	Emails       repository.EmailRepository
	Accounts     repository.AccountRepository
	Summaries    repository.ThreadSummaryRepository
	Interactions repository.InteractionRepository
	Tasks        TaskReader
	Providers    ProviderRegistry
	Enricher     Enricher
	Box          Sealer
	Cache        cache.Cache
	Calendar     Calendar
	Watcher      MailboxWatcher
	PubSubTopic  string
	StatsTTL     time.Duration
}

type emailUsecase struct {
	EmailUsecaseDeps
	log *zap.Logger
	now func() time.Time
}

// NewEmailUsecase creates a new instance of emailUsecase
func NewEmailUsecase(deps EmailUsecaseDeps, log *zap.Logger) EmailUsecase {
	if deps.StatsTTL <= 0 {
		deps.StatsTTL = 60 * time.Second
	}
	return &emailUsecase{
		EmailUsecaseDeps: deps,
		log:              log.Named("email"),
		now:              time.Now,
	}
}

func (u *emailUsecase) ListEmails(ctx context.Context, userID string, q ListQuery) ([]*emaildomain.Email, int64, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	query := strings.TrimSpace(q.Q)
	if query == "" {
		return u.Emails.List(ctx, userID, repository.EmailFilter{Category: q.Category, Limit: q.Limit, Offset: q.Offset})
	}
	return u.fuzzySearch(ctx, userID, q.Category, query, q.Limit, q.Offset)
}

// fuzzySearch scans the most recent messages and ranks typo tolerant matches
func (u *emailUsecase) fuzzySearch(ctx context.Context, userID string, category emaildomain.Category, query string, limit, offset int) ([]*emaildomain.Email, int64, error) {
	candidates, _, err := u.Emails.List(ctx, userID, repository.EmailFilter{Category: category, Limit: maxFuzzyScan})
	if err != nil {
		return nil, 0, err
	}

	type scoredEmail struct {
		email *emaildomain.Email
		score float64
	}
	matched := make([]scoredEmail, 0, limit)
	for _, e := range candidates {
		if fuzzy.MatchEmail(query, e.Subject, e.Sender, e.BodyPlain) {
			matched = append(matched, scoredEmail{email: e, score: fuzzy.Score(query, e.Subject, e.Sender)})
		}
	}

	// Highest score first, newer first on ties
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].email.ReceivedAt.After(matched[j].email.ReceivedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []*emaildomain.Email{}, total, nil
	}
	end := min(offset+limit, len(matched))
	out := make([]*emaildomain.Email, 0, end-offset)
	for _, m := range matched[offset:end] {
		out = append(out, m.email)
	}
	return out, total, nil
}

// ownedEmail loads an email and checks it belongs to userID
func (u *emailUsecase) ownedEmail(ctx context.Context, userID, emailID string) (*emaildomain.Email, error) {
	email, err := u.Emails.FindByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, fmt.Errorf("email %s: %w", emailID, emaildomain.ErrNotFound)
	}
	if email.UserID != userID {
		return nil, emaildomain.ErrForbidden
	}
	return email, nil
}

func (u *emailUsecase) GetEmail(ctx context.Context, userID, emailID string) (*EmailDetail, error) {
	email, err := u.ownedEmail(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}
	loaded, err := u.Emails.FindWithAttachments(ctx, userID, []string{email.ID})
	if err != nil {
		return nil, err
	}
	detail := &EmailDetail{Email: email, Attachments: []emaildomain.Attachment{}}
	if len(loaded) == 1 && loaded[0].Attachments != nil {
		detail.Attachments = loaded[0].Attachments
	}
	if email.ThreadID != "" {
		summary, err := u.Summaries.Find(ctx, email.AccountID, email.ThreadID)
		if err != nil {
			u.log.Warn("failed to load thread summary", zap.String("thread_id", email.ThreadID), zap.Error(err))
		}
		detail.ThreadSummary = summary
	}
	return detail, nil
}

func (u *emailUsecase) GetThreadSummary(ctx context.Context, userID, threadID string) (*emaildomain.ThreadSummary, error) {
	summary, err := u.Summaries.FindByThread(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, fmt.Errorf("thread summary %s: %w", threadID, emaildomain.ErrNotFound)
	}
	return summary, nil
}

func (u *emailUsecase) RecordInteraction(ctx context.Context, userID, emailID string, action emaildomain.InteractionAction) (*emaildomain.Interaction, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid action %q", action)
	}
	if _, err := u.ownedEmail(ctx, userID, emailID); err != nil {
		return nil, err
	}
	in := &emaildomain.Interaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		EmailID:   emailID,
		Action:    action,
		CreatedAt: u.now(),
	}
	if err := u.Interactions.CreateInteraction(ctx, in); err != nil {
		return nil, err
	}
	u.log.Debug("interaction recorded", zap.String("email_id", emailID), zap.String("action", string(action)))
	return in, nil
}

func (u *emailUsecase) ListAccounts(ctx context.Context, userID string) ([]*emaildomain.Account, error) {
	return u.Accounts.FindByUserID(ctx, userID)
}

// ownedAccount loads an account of userID with its credentials opened
func (u *emailUsecase) ownedAccount(ctx context.Context, userID, accountID string) (*emaildomain.Account, error) {
	acct, err := u.Accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", accountID, emaildomain.ErrNotFound)
	}
	if acct.UserID != userID {
		return nil, emaildomain.ErrForbidden
	}
	return openAccount(u.Box, acct)
}

func (u *emailUsecase) SendEmail(ctx context.Context, userID string, req SendRequest) (string, error) {
	acct, err := u.ownedAccount(ctx, userID, req.AccountID)
	if err != nil {
		return "", err
	}
	provider, err := u.Providers.For(acct.Provider)
	if err != nil {
		return "", err
	}
	sentID, err := provider.Send(ctx, acct, emaildomain.OutgoingMessage{
		To:       req.To,
		Cc:       req.Cc,
		Subject:  req.Subject,
		Body:     req.Body,
		ThreadID: req.ThreadID,
	})
	if err != nil {
		return "", err
	}
	u.log.Info("email sent", zap.String("account_id", acct.ID), zap.String("message_id", sentID))
	return sentID, nil
}

func (u *emailUsecase) WatchAccount(ctx context.Context, userID, accountID string) (uint64, error) {
	acct, err := u.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return 0, err
	}
	if acct.Provider != emaildomain.ProviderGmail {
		return 0, fmt.Errorf("push notifications are only available for gmail accounts")
	}
	if u.Watcher == nil || u.PubSubTopic == "" {
		return 0, fmt.Errorf("push notifications are not configured")
	}
	return u.Watcher.Watch(ctx, acct, u.PubSubTopic)
}

// calendarAccount picks the user's first Google account
func (u *emailUsecase) calendarAccount(ctx context.Context, userID string) (*emaildomain.Account, error) {
	accounts, err := u.Accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		if acct.Provider == emaildomain.ProviderGmail {
			return openAccount(u.Box, acct)
		}
	}
	return nil, emaildomain.ErrNoCalendarAccount
}

func (u *emailUsecase) UpcomingEvents(ctx context.Context, userID string, days int) ([]calendar.Event, error) {
	if u.Calendar == nil {
		return nil, emaildomain.ErrNoCalendarAccount
	}
	acct, err := u.calendarAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}
	return u.Calendar.ListUpcoming(ctx, acct, days)
}

func (u *emailUsecase) CreateEvent(ctx context.Context, userID string, in calendar.NewEvent) (*calendar.Event, error) {
	if u.Calendar == nil {
		return nil, emaildomain.ErrNoCalendarAccount
	}
	if !in.End.After(in.Start) {
		return nil, ErrInvalidTimeRange
	}
	acct, err := u.calendarAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Calendar.CreateEvent(ctx, acct, in)
}

// CheckConflicts reports the calendar events overlapping a proposed slot
func (u *emailUsecase) CheckConflicts(ctx context.Context, userID string, start, end time.Time) (*calendar.ConflictReport, error) {
	if u.Calendar == nil {
		return nil, emaildomain.ErrNoCalendarAccount
	}
	if !end.After(start) {
		return nil, ErrInvalidTimeRange
	}
	acct, err := u.calendarAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Calendar.Conflicts(ctx, acct, start, end)
}
