package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	authdomain "kyra-backend/internal/auth/domain"
	authdelivery "kyra-backend/internal/auth/delivery"
	chatdomain "kyra-backend/internal/chat/domain"
	"kyra-backend/internal/chat/usecase"
)

// ChatService is what the handler needs from the responder
type ChatService interface {
	Respond(ctx context.Context, auth *authdomain.AuthContext, req usecase.ChatRequest) (*usecase.ChatResponse, error)
	Conversations(ctx context.Context, userID string, limit int) ([]*chatdomain.Conversation, error)
	Turns(ctx context.Context, userID, conversationID string) ([]*chatdomain.Turn, error)
}

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	case errors.Is(err, authdomain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Chat answers a query about the user's mail
// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req usecase.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.chat.Respond(c.Request.Context(), authdelivery.CurrentAuth(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListConversations returns the user's conversations
// GET /api/chat/conversations?limit=20
func (h *ChatHandler) ListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	convs, err := h.chat.Conversations(c.Request.Context(), c.GetString("userID"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// ListMessages returns the turns of one conversation
// GET /api/chat/conversations/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	turns, err := h.chat.Turns(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": turns})
}
