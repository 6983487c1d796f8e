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
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/email/repository"
	"kyra-backend/internal/enrichment"
	taskdomain "kyra-backend/internal/task/domain"
	"kyra-backend/pkg/extract"
	"kyra-backend/pkg/monitoring"
)

// SyncState is the step a pass reached
type SyncState string

const (
	StateList           SyncState = "list"
	StateFetchNormalize SyncState = "fetch_normalize"
	StateDedupe         SyncState = "dedupe"
	StateEnrich         SyncState = "enrich"
	StateCommit         SyncState = "commit"
	StateDone           SyncState = "done"
)

// SyncResult reports one pass over an account
type SyncResult struct {
	AccountID string        `json:"account_id"`
	Fetched   int           `json:"fetched"`
	New       int           `json:"new"`
	Failed    int           `json:"failed"`
	Tasks     int           `json:"tasks"`
	Summaries int           `json:"summaries"`
	Cursor    string        `json:"cursor"`
	State     SyncState     `json:"state"`
	Duration  time.Duration `json:"duration"`
}

// SyncOptions tunes a pass
type SyncOptions struct {
	ListLimit        int
	BatchSize        int
	BatchPause       time.Duration
	TaskDetectPerSec float64
}

const (
	fetchConcurrency      = 5
	attachmentConcurrency = 4
)

// SyncService runs synchronization passes: list, fetch and normalize, dedupe,
// enrich, then commit everything with the new cursor in one transaction
type SyncService struct {
	accounts  repository.AccountRepository
	emails    repository.EmailRepository
	store     repository.SyncStore
	providers ProviderRegistry
	enricher  Enricher
	box       Sealer
	queue     EmbeddingQueue
	notifier  CriticalNotifier
	opts      SyncOptions
	limiter   *rate.Limiter
	locks     *keyedMutex
	metrics   *monitoring.Metrics
	log       *zap.Logger

	extract func(data []byte, contentType, filename string) (string, bool)
	now     func() time.Time
	newID   func() string
}

func NewSyncService(
	accounts repository.AccountRepository,
	emails repository.EmailRepository,
	store repository.SyncStore,
	providers ProviderRegistry,
	enricher Enricher,
	box Sealer,
	opts SyncOptions,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *SyncService {
	if opts.ListLimit <= 0 {
		opts.ListLimit = 50
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	limit := rate.Inf
	if opts.TaskDetectPerSec > 0 {
		limit = rate.Limit(opts.TaskDetectPerSec)
	}
	return &SyncService{
		accounts:  accounts,
		emails:    emails,
		store:     store,
		providers: providers,
		enricher:  enricher,
		box:       box,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		locks:     newKeyedMutex(),
		metrics:   metrics,
		log:       log.Named("sync"),
		extract:   extract.Extract,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SetEmbeddingQueue wires the background embedding workers
func (s *SyncService) SetEmbeddingQueue(q EmbeddingQueue) {
	s.queue = q
}

// SetCriticalNotifier wires push alerts for Critical messages
func (s *SyncService) SetCriticalNotifier(n CriticalNotifier) {
	s.notifier = n
}

// pass carries the state of one run
type pass struct {
	acct     *emaildomain.Account
	live     *emaildomain.Account
	provider MailboxProvider
	res      *SyncResult

	ids   []string
	from  string
	next  string
	docs  []*emaildomain.Document
	fresh []*emaildomain.Document
	write *repository.PassWrite
}

func (p *pass) enter(log *zap.Logger, state SyncState) {
	p.res.State = state
	log.Debug("sync state", zap.String("account_id", p.acct.ID), zap.String("state", string(state)))
}

// SyncAccount runs one pass for the account. Passes of the same account never overlap.
func (s *SyncService) SyncAccount(ctx context.Context, accountID string) (*SyncResult, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	acct, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if acct == nil {
		return nil, emaildomain.ErrNotFound
	}

	start := time.Now()
	res, err := s.run(ctx, acct)
	res.Duration = time.Since(start)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, emaildomain.ErrAccountCredentials):
		outcome = "credentials"
	case errors.Is(err, emaildomain.ErrCommitFailed):
		outcome = "commit_failed"
	default:
		outcome = "error"
	}
	s.metrics.ObserveSync(outcome, res.Fetched, res.New, res.Failed, res.Duration)

	fields := []zap.Field{
		zap.String("account_id", acct.ID),
		zap.String("state", string(res.State)),
		zap.Int("fetched", res.Fetched),
		zap.Int("new", res.New),
		zap.Int("failed", res.Failed),
		zap.Int("tasks", res.Tasks),
		zap.Int("summaries", res.Summaries),
		zap.Duration("took", res.Duration),
	}
	if err != nil {
		s.log.Error("sync pass failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Info("sync pass finished", fields...)
	}
	return res, err
}

// SyncByEmail runs a pass for the account connected with address
func (s *SyncService) SyncByEmail(ctx context.Context, address string) (*SyncResult, error) {
	acct, err := s.accounts.FindByEmail(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if acct == nil {
		return nil, emaildomain.ErrNotFound
	}
	return s.SyncAccount(ctx, acct.ID)
}

// SyncUser runs a pass for every account of the user. A failing account does not
// stop the others.
func (s *SyncService) SyncUser(ctx context.Context, userID string) ([]*SyncResult, error) {
	accts, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	var results []*SyncResult
	var errs []error
	for _, acct := range accts {
		res, err := s.SyncAccount(ctx, acct.ID)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", acct.EmailAddress, err))
		}
	}
	return results, errors.Join(errs...)
}

func (s *SyncService) run(ctx context.Context, acct *emaildomain.Account) (*SyncResult, error) {
	p := &pass{acct: acct, res: &SyncResult{AccountID: acct.ID, Cursor: acct.SyncCursor}}

	provider, err := s.providers.For(acct.Provider)
	if err != nil {
		return p.res, err
	}
	p.provider = provider
	if p.live, err = openAccount(s.box, acct); err != nil {
		return p.res, err
	}

	steps := []func(context.Context, *pass) error{s.list, s.fetch, s.dedupe, s.enrich, s.commit}
	for _, step := range steps {
		if err := step(ctx, p); err != nil {
			return p.res, err
		}
	}
	p.enter(s.log, StateDone)
	s.afterCommit(ctx, p)
	return p.res, nil
}

func (s *SyncService) list(ctx context.Context, p *pass) error {
	p.enter(s.log, StateList)

	p.from = p.acct.SyncCursor
	ids, next, err := p.provider.ListSince(ctx, p.live, p.from, s.opts.ListLimit)
	if errors.Is(err, emaildomain.ErrCursorExpired) && p.from != "" {
		s.log.Warn("sync cursor expired, listing most recent messages",
			zap.String("account_id", p.acct.ID), zap.String("cursor", p.from))
		p.from = ""
		ids, next, err = p.provider.ListSince(ctx, p.live, p.from, s.opts.ListLimit)
	}
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	p.ids = ids
	p.next = next
	if p.next == "" {
		p.next = p.acct.SyncCursor
	}
	return nil
}

func (s *SyncService) fetch(ctx context.Context, p *pass) error {
	p.enter(s.log, StateFetchNormalize)

	docs := make([]*emaildomain.Document, len(p.ids))
	for start := 0; start < len(p.ids); start += s.opts.BatchSize {
		if start > 0 {
			if err := pause(ctx, s.opts.BatchPause); err != nil {
				return err
			}
		}
		end := min(start+s.opts.BatchSize, len(p.ids))

		var g errgroup.Group
		g.SetLimit(fetchConcurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				doc, err := p.provider.Fetch(ctx, p.live, p.ids[i])
				if err != nil {
					s.log.Warn("fetch message failed",
						zap.String("account_id", p.acct.ID),
						zap.String("provider_id", p.ids[i]),
						zap.Error(err))
					return nil
				}
				if doc.ProviderID == "" {
					doc.ProviderID = p.ids[i]
				}
				docs[i] = doc
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	for _, d := range docs {
		if d == nil {
			p.res.Failed++
			continue
		}
		p.docs = append(p.docs, d)
	}
	p.res.Fetched = len(p.docs)

	// Failed messages must be listed again next pass; dedupe skips the ones stored now
	if p.res.Failed > 0 {
		s.log.Warn("keeping sync cursor after fetch failures",
			zap.String("account_id", p.acct.ID), zap.Int("failed", p.res.Failed))
		p.next = p.from
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *SyncService) dedupe(ctx context.Context, p *pass) error {
	p.enter(s.log, StateDedupe)

	ids := make([]string, 0, len(p.docs))
	for _, d := range p.docs {
		ids = append(ids, d.ProviderID)
	}
	existing, err := s.emails.ExistingProviderIDs(ctx, p.acct.ID, ids)
	if err != nil {
		return fmt.Errorf("dedupe: %w", err)
	}
	for _, d := range p.docs {
		if existing[d.ProviderID] {
			continue
		}
		existing[d.ProviderID] = true
		p.fresh = append(p.fresh, d)
	}
	return nil
}

func (s *SyncService) enrich(ctx context.Context, p *pass) error {
	p.enter(s.log, StateEnrich)

	now := s.now()
	w := &repository.PassWrite{AccountID: p.acct.ID, Cursor: p.next, SyncedAt: now}
	p.write = w
	if len(p.fresh) == 0 {
		return nil
	}

	classes := s.enricher.ClassifyBatch(ctx, p.fresh)
	w.Emails = make([]emaildomain.Email, len(p.fresh))
	classified := make([]bool, len(p.fresh))
	for i, d := range p.fresh {
		w.Emails[i] = s.newEmail(p.acct, d, now)
		if c, ok := classes[d.ProviderID]; ok && c.Kind == enrichment.Parsed {
			e := &w.Emails[i]
			e.PriorityScore = c.Score
			e.Category = c.Category
			e.Explanation = c.Explanation
			e.Confidence = c.Confidence
			classified[i] = true
		}
	}

	tasks, err := s.detectTasks(ctx, w.Emails, classified)
	if err != nil {
		return err
	}
	w.Tasks = tasks
	w.Attachments = s.extractAttachments(ctx, p, w.Emails)
	w.Summaries = s.summarizeThreads(ctx, p.acct.ID, w.Emails, now)
	return nil
}

func (s *SyncService) newEmail(acct *emaildomain.Account, d *emaildomain.Document, now time.Time) emaildomain.Email {
	threadID := d.ThreadID
	if threadID == "" {
		threadID = d.ProviderID
	}
	received := d.Timestamp
	if received.IsZero() {
		received = now
	}
	return emaildomain.Email{
		ID:         s.newID(),
		AccountID:  acct.ID,
		UserID:     acct.UserID,
		ProviderID: d.ProviderID,
		ThreadID:   threadID,
		Sender:     d.Sender,
		To:         strings.Join(d.To, ", "),
		Subject:    d.Subject,
		BodyPlain:  d.BodyText,
		Snippet:    d.RawSnippet,
		ReceivedAt: received.UTC(),
		Category:   emaildomain.CategoryUnprocessed,
	}
}

// detectTasks runs task detection for classified emails at or above the threshold
func (s *SyncService) detectTasks(ctx context.Context, emails []emaildomain.Email, classified []bool) ([]taskdomain.Task, error) {
	found := make([]*taskdomain.Task, len(emails))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range emails {
		if !classified[i] || emails[i].PriorityScore < enrichment.TaskDetectionThreshold {
			continue
		}
		e := &emails[i]
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			det := s.enricher.DetectTask(gctx, enrichment.TaskInput(e.Subject, e.BodyPlain))
			found[i] = s.taskFromDetection(e, det)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detect tasks: %w", err)
	}

	var tasks []taskdomain.Task
	for _, t := range found {
		if t != nil {
			tasks = append(tasks, *t)
		}
	}
	return tasks, nil
}

func (s *SyncService) taskFromDetection(e *emaildomain.Email, det enrichment.TaskDetection) *taskdomain.Task {
	if det.Kind != enrichment.Parsed || !det.IsTask {
		return nil
	}
	title := det.Description
	if title == "" {
		title = e.Subject
	}
	emailID := e.ID
	t := &taskdomain.Task{
		ID:          s.newID(),
		UserID:      e.UserID,
		EmailID:     &emailID,
		Title:       enrichment.Truncate(title, 200),
		Description: det.Description,
		DueDate:     det.DueDate,
		Priority:    det.Priority,
		Status:      taskdomain.TaskStatusPending,
		TaskType:    det.Type,
	}
	if det.DueDate != nil {
		remind := det.DueDate.Add(-time.Hour)
		if remind.After(s.now()) {
			t.ReminderAt = &remind
		}
	}
	return t
}

// extractAttachments builds the attachment rows of the new emails. Fetch or extraction
// failures leave ExtractedText nil; the row is still written.
func (s *SyncService) extractAttachments(ctx context.Context, p *pass, emails []emaildomain.Email) []emaildomain.Attachment {
	type job struct {
		providerID string
		stub       emaildomain.AttachmentStub
	}
	var atts []emaildomain.Attachment
	var jobs []job
	for i, d := range p.fresh {
		for _, stub := range d.Attachments {
			atts = append(atts, emaildomain.Attachment{
				ID:                   s.newID(),
				EmailID:              emails[i].ID,
				ProviderAttachmentID: stub.ProviderAttachmentID,
				Filename:             stub.Filename,
				ContentType:          stub.ContentType,
				Size:                 stub.Size,
			})
			jobs = append(jobs, job{providerID: d.ProviderID, stub: stub})
		}
	}

	var g errgroup.Group
	g.SetLimit(attachmentConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			data := j.stub.Inline
			if data == nil && j.stub.ProviderAttachmentID != "" {
				var err error
				data, err = p.provider.FetchAttachment(ctx, p.live, j.providerID, j.stub.ProviderAttachmentID)
				if err != nil {
					s.log.Warn("fetch attachment failed",
						zap.String("provider_id", j.providerID),
						zap.String("filename", j.stub.Filename),
						zap.Error(err))
					return nil
				}
			}
			if len(data) == 0 {
				return nil
			}
			text, ok := s.extract(data, j.stub.ContentType, j.stub.Filename)
			if !ok {
				return nil
			}
			atts[i].ExtractedText = &text
			return nil
		})
	}
	_ = g.Wait()
	return atts
}

// summarizeThreads recomputes the summary of every touched thread that now has
// enough messages, counting stored and new ones
func (s *SyncService) summarizeThreads(ctx context.Context, accountID string, emails []emaildomain.Email, now time.Time) []emaildomain.ThreadSummary {
	byThread := make(map[string][]emaildomain.Email)
	var threadIDs []string
	for _, e := range emails {
		if _, ok := byThread[e.ThreadID]; !ok {
			threadIDs = append(threadIDs, e.ThreadID)
		}
		byThread[e.ThreadID] = append(byThread[e.ThreadID], e)
	}

	stored, err := s.emails.CountByThreads(ctx, accountID, threadIDs)
	if err != nil {
		s.log.Warn("count thread messages failed", zap.String("account_id", accountID), zap.Error(err))
		return nil
	}

	var summaries []emaildomain.ThreadSummary
	for _, threadID := range threadIDs {
		fresh := byThread[threadID]
		if stored[threadID]+len(fresh) < emaildomain.ThreadSummaryMinMessages {
			continue
		}

		var all []emaildomain.Email
		if stored[threadID] > 0 {
			older, err := s.emails.FindThread(ctx, accountID, threadID)
			if err != nil {
				s.log.Warn("load thread failed", zap.String("thread_id", threadID), zap.Error(err))
				continue
			}
			all = append(all, older...)
		}
		all = append(all, fresh...)
		sort.SliceStable(all, func(i, j int) bool { return all[i].ReceivedAt.Before(all[j].ReceivedAt) })

		summary, err := s.enricher.SummarizeThread(ctx, enrichment.ThreadText(all))
		if err != nil {
			s.log.Warn("summarize thread failed", zap.String("thread_id", threadID), zap.Error(err))
			continue
		}
		summaries = append(summaries, emaildomain.ThreadSummary{
			ThreadID:      threadID,
			AccountID:     accountID,
			Summary:       summary,
			MessageCount:  len(all),
			LastUpdatedAt: now,
		})
	}
	return summaries
}

func (s *SyncService) commit(ctx context.Context, p *pass) error {
	p.enter(s.log, StateCommit)

	if err := s.store.CommitPass(ctx, p.write); err != nil {
		return fmt.Errorf("%w (fetched=%d new=%d failed=%d): %v",
			emaildomain.ErrCommitFailed, p.res.Fetched, len(p.write.Emails), p.res.Failed, err)
	}
	p.res.New = len(p.write.Emails)
	p.res.Tasks = len(p.write.Tasks)
	p.res.Summaries = len(p.write.Summaries)
	p.res.Cursor = p.write.Cursor
	return nil
}

func (s *SyncService) afterCommit(ctx context.Context, p *pass) {
	var critical []emaildomain.Email
	for _, e := range p.write.Emails {
		if s.queue != nil {
			s.queue.Enqueue(EmbeddingJob{UserID: e.UserID, EmailID: e.ID, Subject: e.Subject, Body: e.BodyPlain})
		}
		if e.Category == emaildomain.CategoryCritical {
			critical = append(critical, e)
		}
	}
	if s.notifier != nil && len(critical) > 0 {
		s.notifier.NotifyCritical(ctx, p.acct.UserID, critical)
	}
}
