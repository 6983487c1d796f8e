package notification

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	authdomain "kyra-backend/internal/auth/domain"
	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/email/usecase"
	"kyra-backend/pkg/fcm"
)

type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingSyncer) SyncByEmail(_ context.Context, address string) (*usecase.SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, address)
	if r.err != nil {
		return nil, r.err
	}
	return &usecase.SyncResult{AccountID: "a1", New: 2}, nil
}

func TestHandleMessageDedupesByHistoryID(t *testing.T) {
	syncer := &recordingSyncer{}
	s := newService(syncer, zap.NewNop())
	ctx := context.Background()

	s.HandleMessage(ctx, []byte(`{"emailAddress":"me@srmist.edu.in","historyId":100}`))
	s.HandleMessage(ctx, []byte(`{"emailAddress":"me@srmist.edu.in","historyId":100}`))
	s.HandleMessage(ctx, []byte(`{"emailAddress":"me@srmist.edu.in","historyId":99}`))
	s.HandleMessage(ctx, []byte(`{"emailAddress":"me@srmist.edu.in","historyId":101}`))
	s.HandleMessage(ctx, []byte(`{"emailAddress":"other@gmail.com","historyId":5}`))

	assert.Equal(t, []string{"me@srmist.edu.in", "me@srmist.edu.in", "other@gmail.com"}, syncer.calls)
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	syncer := &recordingSyncer{err: emaildomain.ErrNotFound}
	s := newService(syncer, zap.NewNop())

	s.HandleMessage(context.Background(), []byte(`not json`))
	s.HandleMessage(context.Background(), []byte(`{"historyId":3}`))
	assert.Empty(t, syncer.calls)

	s.HandleMessage(context.Background(), []byte(`{"emailAddress":"gone@example.com","historyId":3}`))
	assert.Len(t, syncer.calls, 1)
}

type memFCM struct {
	tokens  []authdomain.FCMToken
	deleted []string
}

func (m *memFCM) SaveToken(context.Context, string, string, string) error { return nil }

func (m *memFCM) GetTokensByUserID(_ context.Context, userID string) ([]authdomain.FCMToken, error) {
	var out []authdomain.FCMToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memFCM) DeleteToken(_ context.Context, token string) error {
	m.deleted = append(m.deleted, token)
	return nil
}

type fakeSender struct {
	stale map[string]bool
	sent  [][]string
	notes []fcm.Notification
}

func (f *fakeSender) SendToDevices(_ context.Context, tokens []string, n fcm.Notification) ([]string, error) {
	f.sent = append(f.sent, append([]string(nil), tokens...))
	f.notes = append(f.notes, n)
	var failed []string
	for _, t := range tokens {
		if f.stale[t] {
			failed = append(failed, t)
		}
	}
	return failed, nil
}

func TestNotifyCriticalDropsStaleTokens(t *testing.T) {
	repo := &memFCM{tokens: []authdomain.FCMToken{
		{UserID: "u1", Token: "phone"},
		{UserID: "u1", Token: "old-laptop"},
		{UserID: "u2", Token: "someone-else"},
	}}
	sender := &fakeSender{stale: map[string]bool{"old-laptop": true}}
	n := NewCriticalNotifier(repo, sender, zap.NewNop())

	n.NotifyCritical(context.Background(), "u1", []emaildomain.Email{
		{ID: "e1", Sender: "dean@srmist.edu.in", Subject: "Exam hall change", PriorityScore: 95},
		{ID: "e2", Sender: "hod@srmist.edu.in", PriorityScore: 88},
	})

	require.Len(t, sender.sent, 2)
	assert.Equal(t, []string{"phone", "old-laptop"}, sender.sent[0])
	assert.Equal(t, []string{"phone"}, sender.sent[1])
	assert.Equal(t, []string{"old-laptop"}, repo.deleted)

	assert.Equal(t, "Critical email from dean@srmist.edu.in", sender.notes[0].Title)
	assert.Equal(t, "Exam hall change", sender.notes[0].Body)
	assert.Equal(t, "/inbox/e1", sender.notes[0].Link)
	assert.Equal(t, "95", sender.notes[0].Data["priority_score"])
	assert.Equal(t, "(No Subject)", sender.notes[1].Body)
}

func TestNotifyCriticalWithoutDevices(t *testing.T) {
	sender := &fakeSender{}
	NewCriticalNotifier(&memFCM{}, sender, zap.NewNop()).NotifyCritical(context.Background(), "u1", []emaildomain.Email{{ID: "e1"}})
	assert.Empty(t, sender.sent)
}
