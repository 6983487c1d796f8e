package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/email/usecase"
)

// GmailNotification is the payload Gmail publishes for a watched mailbox
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// AccountSyncer runs a pass for the account connected with an address
type AccountSyncer interface {
	SyncByEmail(ctx context.Context, address string) (*usecase.SyncResult, error)
}

// Service turns Gmail push notifications into sync passes
type Service struct {
	pubsubClient *pubsub.Client
	syncer       AccountSyncer
	log          *zap.Logger
	topicName    string
	subName      string

	mu sync.Mutex
	// last historyId handled per mailbox
	lastHistoryID map[string]uint64
}

func NewService(ctx context.Context, projectID, topicName, credentialsFile string, syncer AccountSyncer, log *zap.Logger) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	s := newService(syncer, log)
	s.pubsubClient = client
	s.topicName = topicName
	s.subName = topicName + "-sub"
	return s, nil
}

func newService(syncer AccountSyncer, log *zap.Logger) *Service {
	return &Service{
		syncer:        syncer,
		log:           log.Named("pubsub"),
		lastHistoryID: make(map[string]uint64),
	}
}

// Start blocks receiving notifications until ctx is done
func (s *Service) Start(ctx context.Context) {
	s.log.Info("starting notification receiver", zap.String("topic", s.topicName), zap.String("subscription", s.subName))

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		s.log.Error("subscription unavailable", zap.Error(err))
		return
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.HandleMessage(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("receive stopped", zap.Error(err))
	}
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription: %w", err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic: %w", err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.log.Info("created subscription", zap.String("subscription", s.subName))
	return sub, nil
}

// HandleMessage syncs the mailbox named in data unless its historyId was already seen
func (s *Service) HandleMessage(ctx context.Context, data []byte) {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		s.log.Warn("malformed notification", zap.Error(err))
		return
	}
	if n.EmailAddress == "" {
		return
	}
	if !s.claim(n) {
		s.log.Debug("duplicate notification", zap.String("email", n.EmailAddress), zap.Uint64("history_id", n.HistoryID))
		return
	}

	res, err := s.syncer.SyncByEmail(ctx, n.EmailAddress)
	switch {
	case errors.Is(err, emaildomain.ErrNotFound):
		s.log.Info("notification for unknown mailbox", zap.String("email", n.EmailAddress))
	case err != nil:
		s.log.Error("push-triggered sync failed", zap.String("email", n.EmailAddress), zap.Error(err))
	default:
		s.log.Info("push-triggered sync done",
			zap.String("email", n.EmailAddress),
			zap.Uint64("history_id", n.HistoryID),
			zap.Int("new", res.New))
	}
}

func (s *Service) claim(n GmailNotification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[n.EmailAddress]; ok && n.HistoryID <= last {
		return false
	}
	s.lastHistoryID[n.EmailAddress] = n.HistoryID
	return true
}

// Close releases the Pub/Sub client
func (s *Service) Close() error {
	if s.pubsubClient == nil {
		return nil
	}
	return s.pubsubClient.Close()
}
