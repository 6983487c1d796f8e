// Package retrieval assembles the grounding context for a chat query: the stored
// emails nearest to the query embedding plus, for schedule questions, the live
// task list and calendar.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	authdomain "kyra-backend/internal/auth/domain"
	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/enrichment"
	taskdomain "kyra-backend/internal/task/domain"
	"kyra-backend/pkg/calendar"
)

const (
	TopK         = 5
	scheduleDays = 3
	hitSeparator = "\n---\n"
	noSubject    = "No Subject"
	timeLayout   = "2006-01-02 15:04:05-07:00"
)

var scheduleKeywords = []string{"schedule", "tomorrow", "today", "tasks", "due", "deadline", "meeting", "calendar"}

// Embedder turns the query into a vector; false means no embedding is available
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// VectorIndex finds the ids of the emails nearest to a vector
type VectorIndex interface {
	SearchSimilar(ctx context.Context, userID string, vec []float32, k int) ([]string, error)
}

// EmailLoader loads hits with their attachments in the order of ids
type EmailLoader interface {
	FindWithAttachments(ctx context.Context, userID string, ids []string) ([]emaildomain.EmailWithAttachments, error)
}

// TaskSource lists pending tasks, earliest due date first
type TaskSource interface {
	FindPending(ctx context.Context, userID string, limit int) ([]*taskdomain.Task, error)
}

// Schedule reads the user's upcoming calendar events
type Schedule interface {
	UpcomingEvents(ctx context.Context, userID string, days int) ([]calendar.Event, error)
}

// Context is what the responder grounds an answer on
type Context struct {
	Text    string
	Sources []string
	Hits    int
}

type Engine struct {
	embedder Embedder
	index    VectorIndex
	emails   EmailLoader
	tasks    TaskSource
	schedule Schedule
	log      *zap.Logger
}

func NewEngine(embedder Embedder, index VectorIndex, emails EmailLoader, tasks TaskSource, schedule Schedule, log *zap.Logger) *Engine {
	return &Engine{
		embedder: embedder,
		index:    index,
		emails:   emails,
		tasks:    tasks,
		schedule: schedule,
		log:      log.Named("retrieval"),
	}
}

// Retrieve never fails on an unavailable embedding or a search error; it returns
// less context instead. Only a caller without read access gets an error.
func (e *Engine) Retrieve(ctx context.Context, auth *authdomain.AuthContext, query string) (*Context, error) {
	if err := auth.Require("", authdomain.PermReadEmails); err != nil {
		return nil, err
	}
	out := &Context{Sources: []string{}}

	vec, ok := e.embedder.Embed(ctx, query)
	if !ok {
		e.log.Warn("query embedding unavailable, answering without context", zap.String("user_id", auth.UserID))
		return out, nil
	}

	hits, err := e.search(ctx, auth.UserID, vec)
	if err != nil {
		e.log.Error("vector search failed", zap.String("user_id", auth.UserID), zap.Error(err))
		hits = nil
	}

	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, renderHit(h))
		subject := h.Subject
		if subject == "" {
			subject = noSubject
		}
		out.Sources = append(out.Sources, subject)
	}
	out.Hits = len(hits)
	out.Text = strings.Join(parts, hitSeparator)

	if IsScheduleQuery(query) {
		out.Text += e.scheduleBlock(ctx, auth.UserID)
	}
	return out, nil
}

func (e *Engine) search(ctx context.Context, userID string, vec []float32) ([]emaildomain.EmailWithAttachments, error) {
	ids, err := e.index.SearchSimilar(ctx, userID, vec, TopK)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return e.emails.FindWithAttachments(ctx, userID, ids)
}

// IsScheduleQuery reports whether the query asks about tasks or the calendar
func IsScheduleQuery(query string) bool {
	q := strings.ToLower(query)
	for _, k := range scheduleKeywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}

func renderHit(h emaildomain.EmailWithAttachments) string {
	var att string
	var lines []string
	for _, a := range h.Attachments {
		if a.ExtractedText == nil || *a.ExtractedText == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s...", a.Filename, enrichment.Truncate(*a.ExtractedText, 400)))
	}
	if len(lines) > 0 {
		att = "\nAttachments Content:\n" + strings.Join(lines, "\n")
	}
	return fmt.Sprintf("From: %s\nSubject: %s\nContent: %s\n%s\nDate: %s\nImp Score: %d\nExplanation: %s",
		h.Sender, h.Subject, enrichment.Truncate(h.BodyPlain, 500), att,
		h.ReceivedAt.Format(timeLayout), h.PriorityScore, h.Explanation)
}

func (e *Engine) scheduleBlock(ctx context.Context, userID string) string {
	var taskLines []string
	tasks, err := e.tasks.FindPending(ctx, userID, 0)
	if err != nil {
		e.log.Error("failed to load pending tasks", zap.String("user_id", userID), zap.Error(err))
	}
	for _, t := range tasks {
		due := "None"
		if t.DueDate != nil {
			due = t.DueDate.Format(timeLayout)
		}
		desc := t.Description
		if desc == "" {
			desc = t.Title
		}
		taskLines = append(taskLines, fmt.Sprintf("- [Task] %s (Due: %s, Priority: %s)", desc, due, t.Priority))
	}

	var events string
	list, err := e.schedule.UpcomingEvents(ctx, userID, scheduleDays)
	switch {
	case errors.Is(err, emaildomain.ErrNoCalendarAccount):
		events = "No calendar account connected."
	case err != nil:
		e.log.Warn("calendar fetch failed", zap.String("user_id", userID), zap.Error(err))
		events = "Error fetching calendar events."
	default:
		lines := make([]string, 0, len(list))
		for _, ev := range list {
			lines = append(lines, fmt.Sprintf("- [Event] %s (Start: %s)", ev.Summary, ev.StartRaw))
		}
		events = strings.Join(lines, "\n")
	}

	return "\n\n=== OVERRIDE CONTEXT: LIVE SCHEDULE ===\nPENDING TASKS:\n" + strings.Join(taskLines, "\n") +
		"\n\nUPCOMING EVENTS:\n" + events + "\n=======================================\n"
}
