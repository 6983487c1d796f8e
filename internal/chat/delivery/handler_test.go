package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authdomain "kyra-backend/internal/auth/domain"
	chatdomain "kyra-backend/internal/chat/domain"
	"kyra-backend/internal/chat/usecase"
)

type stubChat struct {
	gotQuery string
	gotAuth  *authdomain.AuthContext
}

func (s *stubChat) Respond(_ context.Context, auth *authdomain.AuthContext, req usecase.ChatRequest) (*usecase.ChatResponse, error) {
	s.gotQuery = req.Query
	s.gotAuth = auth
	return &usecase.ChatResponse{Response: "hi", ConversationID: "c1", Sources: []string{}}, nil
}

func (s *stubChat) Conversations(context.Context, string, int) ([]*chatdomain.Conversation, error) {
	return []*chatdomain.Conversation{{ID: "c1", UserID: "u1"}}, nil
}

func (s *stubChat) Turns(_ context.Context, userID, id string) ([]*chatdomain.Turn, error) {
	switch id {
	case "c1":
		return []*chatdomain.Turn{{ID: "t1", ConversationID: "c1", Role: chatdomain.RoleUser}}, nil
	case "c2":
		return nil, authdomain.ErrForbidden
	}
	return nil, usecase.ErrConversationNotFound
}

func newRouter(chat ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	h := NewChatHandler(chat)
	r.POST("/api/chat", h.Chat)
	r.GET("/api/chat/conversations", h.ListConversations)
	r.GET("/api/chat/conversations/:id/messages", h.ListMessages)
	return r
}

func TestChatRequiresQuery(t *testing.T) {
	r := newRouter(&stubChat{})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"conversation_id":"c1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatResponds(t *testing.T) {
	chat := &stubChat{}
	r := newRouter(chat)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"what is due today?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp usecase.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hi", resp.Response)
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, "what is due today?", chat.gotQuery)
}

func TestListMessagesErrors(t *testing.T) {
	r := newRouter(&stubChat{})
	for id, want := range map[string]int{"c1": http.StatusOK, "c2": http.StatusForbidden, "missing": http.StatusNotFound} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/conversations/"+id+"/messages", nil))
		assert.Equal(t, want, w.Code, id)
	}
}

func TestListConversations(t *testing.T) {
	r := newRouter(&stubChat{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/conversations?limit=500", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"c1"`)
}
