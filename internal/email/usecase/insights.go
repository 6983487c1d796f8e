package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/enrichment"
	"kyra-backend/pkg/cache"
)

const (
	digestFallback = "Unable to generate digest."
	draftNoContext = "No previous context (New Email)."
	draftThreadLen = 3
	defaultTone    = "Professional"
)

func (u *emailUsecase) DashboardStats(ctx context.Context, userID string) (*emaildomain.DashboardStats, error) {
	return cache.GetOrCompute(ctx, u.Cache, statsKeyPrefix+userID, u.StatsTTL, func(ctx context.Context) (*emaildomain.DashboardStats, error) {
		return u.computeStats(ctx, userID)
	})
}

func (u *emailUsecase) computeStats(ctx context.Context, userID string) (*emaildomain.DashboardStats, error) {
	now := u.now()
	counts, err := u.Emails.Counts(ctx, userID, UrgentScore, InboxScore, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count emails: %w", err)
	}
	pending, err := u.Tasks.CountPending(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("count pending tasks: %w", err)
	}
	weekAhead := now.Add(7 * 24 * time.Hour)
	upcoming, err := u.Tasks.CountPending(ctx, userID, &weekAhead)
	if err != nil {
		return nil, fmt.Errorf("count upcoming tasks: %w", err)
	}
	return &emaildomain.DashboardStats{
		Urgent:        counts.Urgent,
		PendingTasks:  pending,
		UpcomingTasks: upcoming,
		Inbox:         counts.Inbox,
		Total:         counts.Total,
	}, nil
}

// GenerateDigest writes and stores the morning briefing from the last day's urgent
// mail and the pending tasks
func (u *emailUsecase) GenerateDigest(ctx context.Context, userID string) (*emaildomain.DailyDigest, error) {
	now := u.now()
	emails, err := u.Emails.FindImportantSince(ctx, userID, UrgentScore, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	tasks, err := u.Tasks.FindPending(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Here are the important updates for today:\n\n")
	b.WriteString("URGENT EMAILS:\n")
	if len(emails) == 0 {
		b.WriteString("No urgent emails.\n")
	}
	for _, e := range emails {
		fmt.Fprintf(&b, "- [%d] %s (from %s)\n", e.PriorityScore, e.Subject, e.Sender)
	}
	b.WriteString("\nPENDING TASKS:\n")
	if len(tasks) == 0 {
		b.WriteString("No pending tasks.\n")
	}
	for _, t := range tasks {
		desc := t.Description
		if desc == "" {
			desc = t.Title
		}
		fmt.Fprintf(&b, "- %s (Priority: %s)\n", desc, t.Priority)
	}

	content, err := u.Enricher.Digest(ctx, b.String())
	if err != nil || content == "" {
		u.log.Error("digest generation failed", zap.String("user_id", userID), zap.Error(err))
		content = digestFallback
	}

	digest := &emaildomain.DailyDigest{
		ID:          uuid.New().String(),
		UserID:      userID,
		Content:     content,
		GeneratedAt: now,
	}
	if err := u.Interactions.CreateDigest(ctx, digest); err != nil {
		return nil, fmt.Errorf("save digest: %w", err)
	}
	u.log.Info("digest generated", zap.String("user_id", userID),
		zap.Int("urgent_emails", len(emails)), zap.Int("pending_tasks", len(tasks)))
	return digest, nil
}

func (u *emailUsecase) LatestDigest(ctx context.Context, userID string) (*emaildomain.DailyDigest, error) {
	d, err := u.Interactions.LatestDigest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("digest: %w", emaildomain.ErrNotFound)
	}
	return d, nil
}

// DraftReply writes a reply body, or a new email when no thread is given
func (u *emailUsecase) DraftReply(ctx context.Context, userID string, req DraftRequest) (*DraftResult, error) {
	tone := strings.TrimSpace(req.Tone)
	if tone == "" {
		tone = defaultTone
	}

	threadContext := draftNoContext
	if req.ThreadID != "" {
		emails, err := u.Emails.FindLatestInThread(ctx, userID, req.ThreadID, draftThreadLen)
		if err != nil {
			return nil, err
		}
		if len(emails) > 0 {
			var b strings.Builder
			for _, e := range emails {
				fmt.Fprintf(&b, "\n---\nFrom: %s\nDate: %s\nSubject: %s\nBody: %s\n",
					e.Sender, e.ReceivedAt.Format("2006-01-02 15:04:05-07:00"), e.Subject, enrichment.Truncate(e.BodyPlain, 1000))
			}
			threadContext = b.String()
		}
	}

	prompt := draftPrompt(tone) + "\n\nCONTEXT:" + threadContext + "\n\nUSER INSTRUCTIONS: " + req.Prompt + "\n\nDRAFT BODY:"
	body, err := u.Enricher.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate draft: %w", err)
	}
	return &DraftResult{DraftBody: strings.TrimSpace(body), ThreadID: req.ThreadID}, nil
}

func draftPrompt(tone string) string {
	return `You are Kyra, an intelligent email assistant.
Your task is to DRAFT a reply (or new email) based on the user's instructions.

TONE: ` + tone + `

DIRECTIVES:
- Do NOT include placeholders like [Your Name]. Use "Sent via Kyra" if you must, or strictly follow user instructions.
- STRICTLY follow the user's instructions.
- If replying, reference the context appropriately.
- Be concise.

OUTPUT FORMAT:
Return ONLY the email body text. Do not include "Subject:" line.`
}
