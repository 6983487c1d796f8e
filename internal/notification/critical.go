package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	authrepo "kyra-backend/internal/auth/repository"
	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/pkg/fcm"
)

const maxSubjectLen = 100

// CriticalNotifier pushes an FCM alert for Critical emails
type CriticalNotifier struct {
	fcmRepo authrepo.FCMTokenRepository
	sender  fcm.Sender
	log     *zap.Logger
}

func NewCriticalNotifier(fcmRepo authrepo.FCMTokenRepository, sender fcm.Sender, log *zap.Logger) *CriticalNotifier {
	return &CriticalNotifier{fcmRepo: fcmRepo, sender: sender, log: log.Named("critical_notifier")}
}

// NotifyCritical sends one push per email to every device of the user
func (n *CriticalNotifier) NotifyCritical(ctx context.Context, userID string, emails []emaildomain.Email) {
	tokens, err := n.fcmRepo.GetTokensByUserID(ctx, userID)
	if err != nil {
		n.log.Error("failed to load device tokens", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}
	live := authrepo.TokenStrings(tokens)

	for _, e := range emails {
		failed, err := n.sender.SendToDevices(ctx, live, criticalNotification(e))
		if err != nil {
			n.log.Error("push failed", zap.String("email_id", e.ID), zap.Error(err))
			continue
		}
		if len(failed) > 0 {
			live = n.dropStale(ctx, live, failed)
			if len(live) == 0 {
				return
			}
		}
	}
}

func (n *CriticalNotifier) dropStale(ctx context.Context, live, failed []string) []string {
	stale := make(map[string]struct{}, len(failed))
	for _, t := range failed {
		stale[t] = struct{}{}
		if err := n.fcmRepo.DeleteToken(ctx, t); err != nil {
			n.log.Warn("failed to delete stale token", zap.Error(err))
		}
	}
	kept := live[:0]
	for _, t := range live {
		if _, ok := stale[t]; !ok {
			kept = append(kept, t)
		}
	}
	return kept
}

func criticalNotification(e emaildomain.Email) fcm.Notification {
	subject := e.Subject
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen-3] + "..."
	}
	if subject == "" {
		subject = "(No Subject)"
	}
	return fcm.Notification{
		Title: fmt.Sprintf("Critical email from %s", e.Sender),
		Body:  subject,
		Link:  "/inbox/" + e.ID,
		Data: map[string]string{
			"type":           "critical_email",
			"email_id":       e.ID,
			"priority_score": fmt.Sprintf("%d", e.PriorityScore),
		},
	}
}
