package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	authdomain "kyra-backend/internal/auth/domain"
	chatdomain "kyra-backend/internal/chat/domain"
	"kyra-backend/internal/enrichment"
	"kyra-backend/internal/retrieval"
)

type mockBrain struct {
	mock.Mock
}

func (m *mockBrain) ClassifyIntent(ctx context.Context, query string) enrichment.IntentResult {
	args := m.Called(ctx, query)
	return args.Get(0).(enrichment.IntentResult)
}

func (m *mockBrain) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Retrieve(ctx context.Context, auth *authdomain.AuthContext, query string) (*retrieval.Context, error) {
	args := m.Called(ctx, auth, query)
	if c := args.Get(0); c != nil {
		return c.(*retrieval.Context), args.Error(1)
	}
	return nil, args.Error(1)
}

type memConversations struct {
	convs     map[string]*chatdomain.Conversation
	turns     []*chatdomain.Turn
	appendErr error
}

func newMemConversations() *memConversations {
	return &memConversations{convs: map[string]*chatdomain.Conversation{}}
}

func (m *memConversations) Create(_ context.Context, c *chatdomain.Conversation) error {
	cp := *c
	m.convs[c.ID] = &cp
	return nil
}

func (m *memConversations) FindByID(_ context.Context, id string) (*chatdomain.Conversation, error) {
	if c, ok := m.convs[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memConversations) ListByUser(_ context.Context, userID string, _ int) ([]*chatdomain.Conversation, error) {
	var out []*chatdomain.Conversation
	for _, c := range m.convs {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memConversations) ListTurns(_ context.Context, conversationID string) ([]*chatdomain.Turn, error) {
	var out []*chatdomain.Turn
	for _, t := range m.turns {
		if t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memConversations) AppendTurns(_ context.Context, conversationID string, turns []*chatdomain.Turn) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, t := range turns {
		t.ConversationID = conversationID
		m.turns = append(m.turns, t)
	}
	return nil
}

var student = &authdomain.AuthContext{UserID: "u1", Email: "me@srmist.edu.in"}

func allowed(intent enrichment.Intent) enrichment.IntentResult {
	return enrichment.IntentResult{Kind: enrichment.Parsed, Intent: intent, Confidence: "high"}
}

func newResponder(brain *mockBrain, ret *mockRetriever, convs *memConversations) *Responder {
	r := NewResponder(brain, ret, convs, nil, zap.NewNop())
	r.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return r
}

func TestChatIntentRejectedWithoutRetrieval(t *testing.T) {
	brain := &mockBrain{}
	ret := &mockRetriever{}
	convs := newMemConversations()
	brain.On("ClassifyIntent", mock.Anything, "write me a poem").Return(allowed(enrichment.IntentChat))

	resp, err := newResponder(brain, ret, convs).Respond(context.Background(), student, ChatRequest{Query: "write me a poem"})
	require.NoError(t, err)

	assert.True(t, resp.IntentRejected)
	assert.Equal(t, "Intent Rejected", resp.ConversationTitle)
	assert.Equal(t, enrichment.IntentChat, resp.Intent)
	assert.Empty(t, resp.Sources)
	assert.NotEmpty(t, resp.ConversationID)
	assert.True(t, strings.HasPrefix(resp.Response, "I can only help with email management tasks. Your query seems to be: chat. "))
	assert.True(t, strings.HasSuffix(resp.Response, "\n\nPlease rephrase your query to focus on email management."))

	ret.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything)
	brain.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	assert.Empty(t, convs.convs)
	assert.Empty(t, convs.turns)
}

func TestChatUnparseableIntentIsRejected(t *testing.T) {
	brain := &mockBrain{}
	brain.On("ClassifyIntent", mock.Anything, mock.Anything).Return(enrichment.IntentResult{Kind: enrichment.Unparseable, Intent: enrichment.IntentChat})

	resp, err := newResponder(brain, &mockRetriever{}, newMemConversations()).Respond(context.Background(), student, ChatRequest{Query: "??", ConversationID: "c-keep"})
	require.NoError(t, err)
	assert.True(t, resp.IntentRejected)
	assert.Equal(t, "c-keep", resp.ConversationID)
}

func TestChatAnswersWithContextAndPersists(t *testing.T) {
	brain := &mockBrain{}
	ret := &mockRetriever{}
	convs := newMemConversations()
	query := "Why is the lab 3 email marked critical for me?"

	brain.On("ClassifyIntent", mock.Anything, query).Return(allowed(enrichment.IntentExplain))
	ret.On("Retrieve", mock.Anything, student, query).Return(&retrieval.Context{Text: "From: prof@srmist.edu.in", Sources: []string{"Lab 3"}, Hits: 1}, nil)
	brain.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "You are Kyra, a high-intelligence email intelligence agent for a busy CS student.") &&
			strings.HasSuffix(p, "\n\nCONTEXT:\nFrom: prof@srmist.edu.in\n\nUSER QUERY: "+query+"\n\nRESPONSE:")
	})).Return("It comes from your professor.", nil)

	resp, err := newResponder(brain, ret, convs).Respond(context.Background(), student, ChatRequest{Query: query})
	require.NoError(t, err)

	assert.False(t, resp.IntentRejected)
	assert.Equal(t, "It comes from your professor.", resp.Response)
	assert.Equal(t, []string{"Lab 3"}, resp.Sources)
	assert.Equal(t, "Why is the lab 3 email marked ...", resp.ConversationTitle)
	require.Len(t, convs.turns, 2)
	assert.Equal(t, chatdomain.RoleUser, convs.turns[0].Role)
	assert.Equal(t, chatdomain.RoleAssistant, convs.turns[1].Role)
	assert.Equal(t, resp.ConversationID, convs.turns[1].ConversationID)
	brain.AssertExpectations(t)
}

func TestChatEmbeddingOutageStillAnswers(t *testing.T) {
	brain := &mockBrain{}
	ret := &mockRetriever{}
	brain.On("ClassifyIntent", mock.Anything, mock.Anything).Return(allowed(enrichment.IntentFilter))
	ret.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(&retrieval.Context{Sources: []string{}}, nil)
	brain.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("model unreachable"))

	resp, err := newResponder(brain, ret, newMemConversations()).Respond(context.Background(), student, ChatRequest{Query: "show emails from my advisor"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Response)
	assert.Equal(t, "I'm having trouble thinking right now. Please check my logs.", resp.Response)
	assert.Empty(t, resp.Sources)
}

func TestChatReusesOwnConversationOnly(t *testing.T) {
	brain := &mockBrain{}
	ret := &mockRetriever{}
	convs := newMemConversations()
	convs.convs["mine"] = &chatdomain.Conversation{ID: "mine", UserID: "u1", Title: "Earlier"}
	convs.convs["theirs"] = &chatdomain.Conversation{ID: "theirs", UserID: "u2", Title: "Private"}

	brain.On("ClassifyIntent", mock.Anything, mock.Anything).Return(allowed(enrichment.IntentCommand))
	ret.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(&retrieval.Context{Sources: []string{}}, nil)
	brain.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)
	r := newResponder(brain, ret, convs)

	resp, err := r.Respond(context.Background(), student, ChatRequest{Query: "archive it", ConversationID: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", resp.ConversationID)
	assert.Equal(t, "Earlier", resp.ConversationTitle)

	resp, err = r.Respond(context.Background(), student, ChatRequest{Query: "archive it", ConversationID: "theirs"})
	require.NoError(t, err)
	assert.NotEqual(t, "theirs", resp.ConversationID)
	assert.Equal(t, "archive it", resp.ConversationTitle)

	_, err = r.Turns(context.Background(), "u1", "theirs")
	assert.ErrorIs(t, err, authdomain.ErrForbidden)
}

func TestChatPersistFailureIsSwallowed(t *testing.T) {
	brain := &mockBrain{}
	ret := &mockRetriever{}
	convs := newMemConversations()
	convs.appendErr = errors.New("db down")
	brain.On("ClassifyIntent", mock.Anything, mock.Anything).Return(allowed(enrichment.IntentTeach))
	ret.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(&retrieval.Context{Sources: []string{}}, nil)
	brain.On("Generate", mock.Anything, mock.Anything).Return("Noted.", nil)

	resp, err := newResponder(brain, ret, convs).Respond(context.Background(), student, ChatRequest{Query: "newsletters are noise"})
	require.NoError(t, err)
	assert.Equal(t, "Noted.", resp.Response)
}

func TestConversationTitle(t *testing.T) {
	assert.Equal(t, "short", ConversationTitle("short"))
	assert.Equal(t, strings.Repeat("a", 30), ConversationTitle(strings.Repeat("a", 30)))
	assert.Equal(t, strings.Repeat("a", 30)+"...", ConversationTitle(strings.Repeat("a", 31)))
}
