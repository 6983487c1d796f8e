package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	authdomain "kyra-backend/internal/auth/domain"
	chatdomain "kyra-backend/internal/chat/domain"
	"kyra-backend/internal/chat/repository"
	"kyra-backend/internal/enrichment"
	"kyra-backend/internal/retrieval"
	"kyra-backend/pkg/monitoring"
)

const (
	rejectedTitle  = "Intent Rejected"
	fallbackAnswer = "I'm having trouble thinking right now. Please check my logs."
	titleLimit     = 30
)

const persona = `You are Kyra, a high-intelligence email intelligence agent for a busy CS student.

CORE DIRECTIVES:
1. OBJECTIVE TONE: Be helpful but objective. No emotional fluff ("I'm sorry", "I'd love to").
2. DATA-BACKED: When answering "Why?", cite specific metadata (Sender, Timestamp, Content).
3. SRM PROTOCOL: If the user or context involves '@srmist.edu.in', default to a "Respectful/Professional" tone.
4. NO HALLUCINATION: If you don't know, say "I don't have that information".
5. AGENTIC GUARDRAILS:
   - Refuse to answer non-email questions (e.g. "Write a poem").
   - Never make promises or decisions on behalf of the user (e.g. "I will attend").
   - Your goal is to *assist*, not *replace* the user's judgment.

SCHEDULE AWARENESS:
You have access to the user's TASKS and CALENDAR EVENTS in the context.
If asked about schedule/deadlines, prioritize this data.`

// Brain is the enrichment surface the responder needs
type Brain interface {
	ClassifyIntent(ctx context.Context, query string) enrichment.IntentResult
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever builds the grounding context for a query
type Retriever interface {
	Retrieve(ctx context.Context, auth *authdomain.AuthContext, query string) (*retrieval.Context, error)
}

type ChatRequest struct {
	Query          string `json:"query" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

type ChatResponse struct {
	Response          string            `json:"response"`
	ConversationID    string            `json:"conversation_id"`
	ConversationTitle string            `json:"conversation_title"`
	Sources           []string          `json:"sources"`
	Intent            enrichment.Intent `json:"intent"`
	IntentRejected    bool              `json:"intent_rejected"`
}

// Responder answers chat queries about the user's mail
type Responder struct {
	brain     Brain
	retriever Retriever
	convs     repository.ConversationRepository
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewResponder(brain Brain, retriever Retriever, convs repository.ConversationRepository, metrics *monitoring.Metrics, log *zap.Logger) *Responder {
	return &Responder{
		brain:     brain,
		retriever: retriever,
		convs:     convs,
		metrics:   metrics,
		log:       log.Named("chat"),
		now:       time.Now,
	}
}

// Respond classifies the query, rejects anything that is not about email, and
// otherwise answers it grounded on retrieved context
func (r *Responder) Respond(ctx context.Context, auth *authdomain.AuthContext, req ChatRequest) (*ChatResponse, error) {
	if err := auth.Require("", authdomain.PermReadEmails); err != nil {
		return nil, err
	}

	intent := r.brain.ClassifyIntent(ctx, req.Query)
	if !intent.Intent.Allowed() {
		r.metrics.ObserveChat(string(intent.Intent), "rejected")
		r.log.Info("query rejected", zap.String("user_id", auth.UserID), zap.String("intent", string(intent.Intent)))
		convID := req.ConversationID
		if convID == "" {
			convID = uuid.New().String()
		}
		return &ChatResponse{
			Response:          rejectionMessage(intent.Intent),
			ConversationID:    convID,
			ConversationTitle: rejectedTitle,
			Sources:           []string{},
			Intent:            intent.Intent,
			IntentRejected:    true,
		}, nil
	}

	conv, err := r.resolveConversation(ctx, auth.UserID, req)
	if err != nil {
		return nil, err
	}

	grounding, err := r.retriever.Retrieve(ctx, auth, req.Query)
	if err != nil {
		return nil, err
	}

	outcome := "answered"
	answer, err := r.brain.Generate(ctx, BuildPrompt(grounding.Text, req.Query))
	if err != nil || answer == "" {
		r.log.Error("generation failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		answer = fallbackAnswer
		outcome = "fallback"
	}

	r.persist(ctx, conv.ID, req.Query, answer)
	r.metrics.ObserveChat(string(intent.Intent), outcome)

	return &ChatResponse{
		Response:          answer,
		ConversationID:    conv.ID,
		ConversationTitle: conv.Title,
		Sources:           grounding.Sources,
		Intent:            intent.Intent,
		IntentRejected:    false,
	}, nil
}

// resolveConversation reuses the requested conversation when it belongs to the
// user and starts a new one otherwise
func (r *Responder) resolveConversation(ctx context.Context, userID string, req ChatRequest) (*chatdomain.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := r.convs.FindByID(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		if conv != nil && conv.UserID == userID {
			return conv, nil
		}
		r.log.Warn("conversation not usable, starting a new one", zap.String("conversation_id", req.ConversationID))
	}

	now := r.now()
	conv := &chatdomain.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     ConversationTitle(req.Query),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.convs.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// persist writes both turns; history is best effort and never fails the answer
func (r *Responder) persist(ctx context.Context, conversationID, query, answer string) {
	now := r.now()
	turns := []*chatdomain.Turn{
		{Role: chatdomain.RoleUser, Content: query, Seq: 0, CreatedAt: now},
		{Role: chatdomain.RoleAssistant, Content: answer, Seq: 1, CreatedAt: now},
	}
	if err := r.convs.AppendTurns(ctx, conversationID, turns); err != nil {
		r.log.Error("failed to persist chat turns", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// Conversations lists the user's conversations, most recent first
func (r *Responder) Conversations(ctx context.Context, userID string, limit int) ([]*chatdomain.Conversation, error) {
	return r.convs.ListByUser(ctx, userID, limit)
}

// Turns returns the history of a conversation owned by userID
func (r *Responder) Turns(ctx context.Context, userID, conversationID string) ([]*chatdomain.Turn, error) {
	conv, err := r.convs.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if conv.UserID != userID {
		return nil, authdomain.ErrForbidden
	}
	return r.convs.ListTurns(ctx, conversationID)
}

// BuildPrompt joins the persona, the retrieved context and the query
func BuildPrompt(grounding, query string) string {
	return persona + "\n\nCONTEXT:\n" + grounding + "\n\nUSER QUERY: " + query + "\n\nRESPONSE:"
}

// ConversationTitle is the query cut to 30 characters
func ConversationTitle(query string) string {
	r := []rune(query)
	if len(r) > titleLimit {
		return string(r[:titleLimit]) + "..."
	}
	return query
}

func rejectionMessage(intent enrichment.Intent) string {
	return fmt.Sprintf("I can only help with email management tasks. Your query seems to be: %s. ", intent) +
		"I can help you with: explaining email decisions, filtering/finding emails, teaching preferences, or executing commands." +
		"\n\nPlease rephrase your query to focus on email management."
}
