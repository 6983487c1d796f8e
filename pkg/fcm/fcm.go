package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Sender is what notification code depends on, so tests can record pushes
type Sender interface {
	SendToDevices(ctx context.Context, tokens []string, n Notification) ([]string, error)
}

// Client wraps Firebase Cloud Messaging
type Client struct {
	messaging *messaging.Client
	log       *zap.Logger
}

// NewClient creates an FCM client using the provided credentials file
func NewClient(ctx context.Context, credentialsFile string, log *zap.Logger) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log = log.Named("fcm")
	log.Info("client initialized")
	return &Client{messaging: mc, log: log}, nil
}

// Notification is the payload of a push
type Notification struct {
	Title string
	Body  string
	// Link is opened when the notification is clicked
	Link string
	Data map[string]string
}

func (n Notification) webpush() *messaging.WebpushConfig {
	cfg := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: n.Title,
			Body:  n.Body,
			Icon:  "/icon-192.svg",
		},
	}
	if n.Link != "" {
		cfg.FCMOptions = &messaging.WebpushFCMOptions{Link: n.Link}
	}
	return cfg
}

// SendToDevices pushes n to every token and returns the tokens that are no
// longer registered
func (c *Client) SendToDevices(ctx context.Context, tokens []string, n Notification) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	resp, err := c.messaging.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data:    n.Data,
		Webpush: n.webpush(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	c.log.Debug("multicast sent",
		zap.Int("success", resp.SuccessCount),
		zap.Int("failure", resp.FailureCount))

	var stale []string
	for i, r := range resp.Responses {
		if r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			stale = append(stale, tokens[i])
			continue
		}
		c.log.Warn("send failed", zap.String("token", shorten(tokens[i])), zap.Error(r.Error))
	}
	return stale, nil
}

func shorten(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}
