package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/pkg/compose"
)

const user = "me"

// TokenSaver persists a refreshed token for an account
type TokenSaver func(accountID string, token *oauth2.Token) error

// Service is the Gmail mailbox provider
type Service struct {
	oauthConfig *oauth2.Config
	saveToken   TokenSaver
	log         *zap.Logger
	// newService is swapped in tests to point at a fake endpoint
	newService func(ctx context.Context, acct *emaildomain.Account) (*gmail.Service, error)
}

type notifyTokenSource struct {
	src       oauth2.TokenSource
	current   *oauth2.Token
	accountID string
	callback  TokenSaver
	log       *zap.Logger
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(s.accountID, t); err != nil {
			s.log.Warn("failed to persist refreshed token", zap.String("account_id", s.accountID), zap.Error(err))
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
		},
		log: log.Named("gmail"),
	}
	s.newService = s.gmailService
	return s
}

// SetTokenSaver registers the callback used when the oauth2 token source refreshes
func (s *Service) SetTokenSaver(fn TokenSaver) {
	s.saveToken = fn
}

// HTTPClient returns an authorized client for the account, shared with the calendar provider
func (s *Service) HTTPClient(ctx context.Context, acct *emaildomain.Account) *http.Client {
	token := &oauth2.Token{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
		TokenType:    "Bearer",
	}
	if acct.TokenExpiry != nil {
		token.Expiry = *acct.TokenExpiry
	} else if acct.RefreshToken != "" {
		// Unknown expiry: force a refresh on first use
		token.Expiry = time.Now()
	}

	wrapped := &notifyTokenSource{
		src:       s.oauthConfig.TokenSource(ctx, token),
		current:   token,
		accountID: acct.ID,
		callback:  s.saveToken,
		log:       s.log,
	}
	return oauth2.NewClient(ctx, wrapped)
}

func (s *Service) gmailService(ctx context.Context, acct *emaildomain.Account) (*gmail.Service, error) {
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(s.HTTPClient(ctx, acct)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// ListSince lists message ids added after cursor (a history id). With an empty cursor
// it lists the limit most recent messages. next is the mailbox's history id read before listing.
func (s *Service) ListSince(ctx context.Context, acct *emaildomain.Account, cursor string, limit int) ([]string, string, error) {
	srv, err := s.newService(ctx, acct)
	if err != nil {
		return nil, "", err
	}

	// Read the history id first so messages arriving during the listing are
	// listed again by the next pass instead of skipped
	profile, err := srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return nil, "", classifyError(err)
	}
	next := strconv.FormatUint(profile.HistoryId, 10)

	var ids []string
	if cursor != "" {
		startID, perr := strconv.ParseUint(cursor, 10, 64)
		if perr != nil {
			return nil, "", emaildomain.ErrCursorExpired
		}
		ids, err = listHistory(ctx, srv, startID)
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, "", fmt.Errorf("%w: %v", emaildomain.ErrCursorExpired, err)
		}
	} else {
		ids, err = listRecent(ctx, srv, limit)
	}
	if err != nil {
		return nil, "", classifyError(err)
	}
	return ids, next, nil
}

func listHistory(ctx context.Context, srv *gmail.Service, startID uint64) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	err := srv.Users.History.List(user).
		StartHistoryId(startID).
		HistoryTypes("messageAdded").
		Pages(ctx, func(page *gmail.ListHistoryResponse) error {
			for _, h := range page.History {
				for _, added := range h.MessagesAdded {
					if added.Message == nil || seen[added.Message.Id] {
						continue
					}
					seen[added.Message.Id] = true
					ids = append(ids, added.Message.Id)
				}
			}
			return nil
		})
	return ids, err
}

func listRecent(ctx context.Context, srv *gmail.Service, limit int) ([]string, error) {
	resp, err := srv.Users.Messages.List(user).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Fetch retrieves and normalizes a full message
func (s *Service) Fetch(ctx context.Context, acct *emaildomain.Account, id string) (*emaildomain.Document, error) {
	srv, err := s.newService(ctx, acct)
	if err != nil {
		return nil, err
	}
	msg, err := srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, classifyError(err))
	}
	return Normalize(msg), nil
}

// FetchAttachment downloads the decoded bytes of an attachment
func (s *Service) FetchAttachment(ctx context.Context, acct *emaildomain.Account, messageID, attachmentID string) ([]byte, error) {
	srv, err := s.newService(ctx, acct)
	if err != nil {
		return nil, err
	}
	part, err := srv.Users.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", classifyError(err))
	}
	data, err := decodeData(part.Data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %w", err)
	}
	return data, nil
}

// Send delivers msg from the account and returns the provider message id
func (s *Service) Send(ctx context.Context, acct *emaildomain.Account, out emaildomain.OutgoingMessage) (string, error) {
	raw, err := compose.Build(acct.EmailAddress, out)
	if err != nil {
		return "", err
	}
	srv, err := s.newService(ctx, acct)
	if err != nil {
		return "", err
	}
	sent, err := srv.Users.Messages.Send(user, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: out.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to send message: %w", classifyError(err))
	}
	return sent.Id, nil
}

// Watch (re)starts push notifications to the Pub/Sub topic and returns the current history id
func (s *Service) Watch(ctx context.Context, acct *emaildomain.Account, topicName string) (uint64, error) {
	srv, err := s.newService(ctx, acct)
	if err != nil {
		return 0, err
	}
	// Only one push client is allowed per mailbox
	_ = srv.Users.Stop(user).Context(ctx).Do()

	resp, err := srv.Users.Watch(user, &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to watch mailbox: %w", classifyError(err))
	}
	s.log.Info("watch started",
		zap.String("account_id", acct.ID),
		zap.Uint64("history_id", resp.HistoryId),
		zap.Int64("expiration", resp.Expiration))
	return resp.HistoryId, nil
}

// classifyError maps provider failures onto the sync sentinels
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" || strings.Contains(string(rerr.Body), "invalid_grant") {
			return fmt.Errorf("%w: %v", emaildomain.ErrAccountCredentials, err)
		}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", emaildomain.ErrAccountCredentials, err)
		}
	}
	return err
}

func decodeData(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
