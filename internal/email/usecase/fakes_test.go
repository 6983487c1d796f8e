package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/email/repository"
	"kyra-backend/internal/enrichment"
	taskdomain "kyra-backend/internal/task/domain"
)

// memStore is an in-memory stand-in for the gorm repositories. Methods the tests
// never reach panic through the embedded nil interfaces.
type memStore struct {
	repository.EmailRepository

	mu          sync.Mutex
	accounts    map[string]*emaildomain.Account
	emails      []emaildomain.Email
	attachments []emaildomain.Attachment
	tasks       []taskdomain.Task
	summaries   map[string]emaildomain.ThreadSummary
	embeddings  map[string][]float32
	commitErr   error
	commits     int
}

func newMemStore(accts ...*emaildomain.Account) *memStore {
	m := &memStore{
		accounts:   make(map[string]*emaildomain.Account),
		summaries:  make(map[string]emaildomain.ThreadSummary),
		embeddings: make(map[string][]float32),
	}
	for _, a := range accts {
		m.accounts[a.ID] = a
	}
	return m
}

// memAccounts is the account repository view of a memStore
type memAccounts struct {
	repository.AccountRepository
	m *memStore
}

func (m *memStore) accountRepo() *memAccounts {
	return &memAccounts{m: m}
}

func (a *memAccounts) FindByID(_ context.Context, id string) (*emaildomain.Account, error) {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (a *memAccounts) FindByEmail(_ context.Context, address string) (*emaildomain.Account, error) {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.EmailAddress == address {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *memAccounts) FindByUserID(_ context.Context, userID string) ([]*emaildomain.Account, error) {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*emaildomain.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ExistingProviderIDs(_ context.Context, accountID string, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string]bool)
	for _, e := range m.emails {
		if e.AccountID == accountID && want[e.ProviderID] {
			out[e.ProviderID] = true
		}
	}
	return out, nil
}

func (m *memStore) CountByThreads(_ context.Context, accountID string, threadIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(threadIDs))
	for _, id := range threadIDs {
		want[id] = true
	}
	out := make(map[string]int)
	for _, e := range m.emails {
		if e.AccountID == accountID && want[e.ThreadID] {
			out[e.ThreadID]++
		}
	}
	return out, nil
}

func (m *memStore) FindThread(_ context.Context, accountID, threadID string) ([]emaildomain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []emaildomain.Email
	for _, e := range m.emails {
		if e.AccountID == accountID && e.ThreadID == threadID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (m *memStore) FindLatestInThread(_ context.Context, userID, threadID string, n int) ([]emaildomain.Email, error) {
	m.mu.Lock()
	var out []emaildomain.Email
	for _, e := range m.emails {
		if e.UserID == userID && e.ThreadID == threadID {
			out = append(out, e)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*emaildomain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.emails {
		if m.emails[i].ID == id {
			cp := m.emails[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) emailByProviderID(providerID string) *emaildomain.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.emails {
		if m.emails[i].ProviderID == providerID {
			cp := m.emails[i]
			return &cp
		}
	}
	return nil
}

func (m *memStore) SetEmbedding(_ context.Context, emailID string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[emailID] = vec
	return nil
}

func (m *memStore) FindMissingEmbedding(_ context.Context, userID string, limit int) ([]*emaildomain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*emaildomain.Email
	for i := range m.emails {
		e := m.emails[i]
		if _, ok := m.embeddings[e.ID]; ok || (userID != "" && e.UserID != userID) {
			continue
		}
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) CommitPass(_ context.Context, w *repository.PassWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	// Messages already stored are skipped with their attachments and tasks
	written := make(map[string]bool)
	var emails []emaildomain.Email
	for _, e := range w.Emails {
		dup := false
		for _, old := range m.emails {
			if old.AccountID == e.AccountID && old.ProviderID == e.ProviderID {
				dup = true
				break
			}
		}
		if !dup {
			written[e.ID] = true
			emails = append(emails, e)
		}
	}
	w.Emails = emails
	var atts []emaildomain.Attachment
	for _, a := range w.Attachments {
		if written[a.EmailID] {
			atts = append(atts, a)
		}
	}
	w.Attachments = atts
	var tasks []taskdomain.Task
	for _, t := range w.Tasks {
		if t.EmailID == nil || written[*t.EmailID] {
			tasks = append(tasks, t)
		}
	}
	w.Tasks = tasks

	m.commits++
	m.emails = append(m.emails, w.Emails...)
	m.attachments = append(m.attachments, w.Attachments...)
	m.tasks = append(m.tasks, w.Tasks...)
	for _, s := range w.Summaries {
		m.summaries[s.AccountID+"/"+s.ThreadID] = s
	}
	acct := m.accounts[w.AccountID]
	acct.SyncCursor = w.Cursor
	synced := w.SyncedAt
	acct.LastSyncedAt = &synced
	return nil
}

// fakeMailbox serves a fixed mailbox. The cursor is the number of messages listed so far.
type fakeMailbox struct {
	mu          sync.Mutex
	order       []string
	docs        map[string]*emaildomain.Document
	attachments map[string][]byte
	fetchErr    map[string]error
	listErr     error
	expired     bool
	listCalls   []string
	sent        []emaildomain.OutgoingMessage
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		docs:        make(map[string]*emaildomain.Document),
		attachments: make(map[string][]byte),
		fetchErr:    make(map[string]error),
	}
}

func (f *fakeMailbox) add(doc *emaildomain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, doc.ProviderID)
	f.docs[doc.ProviderID] = doc
}

func (f *fakeMailbox) ListSince(_ context.Context, _ *emaildomain.Account, cursor string, limit int) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, cursor)
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	if cursor != "" && f.expired {
		return nil, "", emaildomain.ErrCursorExpired
	}
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	} else if len(f.order) > limit {
		start = len(f.order) - limit
	}
	ids := append([]string(nil), f.order[start:]...)
	return ids, fmt.Sprintf("%d", len(f.order)), nil
}

func (f *fakeMailbox) Fetch(_ context.Context, _ *emaildomain.Account, id string) (*emaildomain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeMailbox) FetchAttachment(_ context.Context, _ *emaildomain.Account, messageID, attachmentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, errors.New("attachment gone")
	}
	return data, nil
}

func (f *fakeMailbox) Send(_ context.Context, _ *emaildomain.Account, out emaildomain.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, out)
	return fmt.Sprintf("sent-%d", len(f.sent)), nil
}

// fakeEnricher scores by subject keyword and finds a deadline in any text mentioning "submit"
type fakeEnricher struct {
	mu            sync.Mutex
	scores        map[string]int
	classifyCalls int
	detectInputs  []string
	summarized    []string
	generated     []string
	embedFails    bool
}

func (f *fakeEnricher) ClassifyBatch(_ context.Context, docs []*emaildomain.Document) map[string]enrichment.Classification {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls++
	out := make(map[string]enrichment.Classification)
	for _, d := range docs {
		score, ok := f.scores[d.ProviderID]
		if !ok {
			continue
		}
		out[d.ProviderID] = enrichment.Classification{
			Kind:        enrichment.Parsed,
			Score:       score,
			Category:    emaildomain.CategoryForScore(score),
			Explanation: "test",
			Confidence:  0.9,
		}
	}
	return out
}

func (f *fakeEnricher) DetectTask(_ context.Context, text string) enrichment.TaskDetection {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectInputs = append(f.detectInputs, text)
	if !strings.Contains(strings.ToLower(text), "submit") {
		return enrichment.TaskDetection{Kind: enrichment.Parsed}
	}
	due := time.Date(2030, 1, 1, 17, 0, 0, 0, time.UTC)
	return enrichment.TaskDetection{
		Kind:        enrichment.Parsed,
		IsTask:      true,
		Description: "Submit by 5pm",
		Type:        taskdomain.TaskTypeDeadline,
		DueDate:     &due,
		Priority:    taskdomain.PriorityHigh,
	}
}

func (f *fakeEnricher) SummarizeThread(_ context.Context, threadText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarized = append(f.summarized, threadText)
	return fmt.Sprintf("summary of %d messages", strings.Count(threadText, "\n---\n")), nil
}

func (f *fakeEnricher) Embed(_ context.Context, _ string) ([]float32, bool) {
	if f.embedFails {
		return nil, false
	}
	return make([]float32, 768), true
}

func (f *fakeEnricher) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, prompt)
	return "  generated text  ", nil
}

func (f *fakeEnricher) Digest(_ context.Context, digestContext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, digestContext)
	return "Good Morning.", nil
}

func (m *memStore) List(_ context.Context, userID string, filter repository.EmailFilter) ([]*emaildomain.Email, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*emaildomain.Email
	for i := range m.emails {
		e := m.emails[i]
		if e.UserID != userID || (filter.Category != "" && e.Category != filter.Category) {
			continue
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	total := int64(len(out))
	if filter.Limit > 0 {
		if filter.Offset >= len(out) {
			return []*emaildomain.Email{}, total, nil
		}
		out = out[filter.Offset:min(filter.Offset+filter.Limit, len(out))]
	}
	return out, total, nil
}

func (m *memStore) FindWithAttachments(_ context.Context, userID string, ids []string) ([]emaildomain.EmailWithAttachments, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []emaildomain.EmailWithAttachments
	for _, id := range ids {
		for _, e := range m.emails {
			if e.ID != id || e.UserID != userID {
				continue
			}
			ew := emaildomain.EmailWithAttachments{Email: e}
			for _, a := range m.attachments {
				if a.EmailID == id {
					ew.Attachments = append(ew.Attachments, a)
				}
			}
			out = append(out, ew)
		}
	}
	return out, nil
}

func (m *memStore) FindImportantSince(_ context.Context, userID string, minScore int, since time.Time) ([]*emaildomain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*emaildomain.Email
	for i := range m.emails {
		e := m.emails[i]
		if e.UserID == userID && e.PriorityScore >= minScore && !e.ReceivedAt.Before(since) {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriorityScore > out[j].PriorityScore })
	return out, nil
}

func (m *memStore) Counts(_ context.Context, userID string, urgentScore, inboxScore int, since time.Time) (*repository.EmailCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c repository.EmailCounts
	for _, e := range m.emails {
		if e.UserID != userID {
			continue
		}
		c.Total++
		if e.PriorityScore >= inboxScore {
			c.Inbox++
		}
		if e.PriorityScore >= urgentScore && !e.ReceivedAt.Before(since) {
			c.Urgent++
		}
	}
	return &c, nil
}

// memSummaries is the thread summary view of a memStore
type memSummaries struct {
	m *memStore
}

func (s memSummaries) Find(_ context.Context, accountID, threadID string) (*emaildomain.ThreadSummary, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if sum, ok := s.m.summaries[accountID+"/"+threadID]; ok {
		return &sum, nil
	}
	return nil, nil
}

func (s memSummaries) FindByThread(_ context.Context, userID, threadID string) (*emaildomain.ThreadSummary, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, sum := range s.m.summaries {
		acct := s.m.accounts[sum.AccountID]
		if sum.ThreadID == threadID && acct != nil && acct.UserID == userID {
			cp := sum
			return &cp, nil
		}
	}
	return nil, nil
}
