package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/pkg/compose"
)

const (
	inbox          = "INBOX"
	commandTimeout = 30 * time.Second
)

// Service is the IMAP mailbox provider. Provider ids and cursors are "uidvalidity:uid".
type Service struct {
	log  *zap.Logger
	dial func(addr string) (*client.Client, error)
}

func NewService(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log: log.Named("imap"),
		dial: func(addr string) (*client.Client, error) {
			return client.DialTLS(addr, nil)
		},
	}
}

func (s *Service) connect(ctx context.Context, acct *emaildomain.Account) (*client.Client, *imap.MailboxStatus, error) {
	port := acct.ImapPort
	if port == 0 {
		port = 993
	}
	c, err := s.dial(fmt.Sprintf("%s:%d", acct.ImapServer, port))
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap: %w", err)
	}
	c.Timeout = commandTimeout

	if err := c.Login(acct.EmailAddress, acct.ImapPassword); err != nil {
		_ = c.Logout()
		return nil, nil, fmt.Errorf("%w: %v", emaildomain.ErrAccountCredentials, err)
	}
	mbox, err := c.Select(inbox, true)
	if err != nil {
		_ = c.Logout()
		return nil, nil, fmt.Errorf("select inbox: %w", err)
	}
	return c, mbox, nil
}

// Verify logs in and selects the inbox, used before an account is stored
func (s *Service) Verify(ctx context.Context, acct *emaildomain.Account) error {
	c, _, err := s.connect(ctx, acct)
	if err != nil {
		return err
	}
	return c.Logout()
}

// ParseCursor splits "uidvalidity:uid"
func ParseCursor(cursor string) (validity, uid uint32, err error) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	v, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	u, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return uint32(v), uint32(u), nil
}

func formatID(validity, uid uint32) string {
	return fmt.Sprintf("%d:%d", validity, uid)
}

// ListSince lists UIDs above the cursor UID, or the limit most recent messages without a cursor.
// A changed UIDVALIDITY expires the cursor.
func (s *Service) ListSince(ctx context.Context, acct *emaildomain.Account, cursor string, limit int) ([]string, string, error) {
	c, mbox, err := s.connect(ctx, acct)
	if err != nil {
		return nil, "", err
	}
	defer c.Logout()

	next := formatID(mbox.UidValidity, highestUID(mbox))

	var uids []uint32
	if cursor != "" {
		validity, last, perr := ParseCursor(cursor)
		if perr != nil || validity != mbox.UidValidity {
			return nil, "", emaildomain.ErrCursorExpired
		}
		criteria := imap.NewSearchCriteria()
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(last+1, 0)
		found, err := c.UidSearch(criteria)
		if err != nil {
			return nil, "", fmt.Errorf("uid search: %w", err)
		}
		// "n:*" always matches the last message, even when its UID is below n
		for _, uid := range found {
			if uid > last {
				uids = append(uids, uid)
			}
		}
	} else {
		uids, err = recentUIDs(c, mbox, limit)
		if err != nil {
			return nil, "", err
		}
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, formatID(mbox.UidValidity, uid))
	}
	return ids, next, nil
}

func highestUID(mbox *imap.MailboxStatus) uint32 {
	if mbox.UidNext == 0 {
		return 0
	}
	return mbox.UidNext - 1
}

func recentUIDs(c *client.Client, mbox *imap.MailboxStatus, limit int) ([]uint32, error) {
	if mbox.Messages == 0 {
		return nil, nil
	}
	from := uint32(1)
	if limit > 0 && mbox.Messages > uint32(limit) {
		from = mbox.Messages - uint32(limit) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchUid}, messages)
	}()

	var uids []uint32
	for msg := range messages {
		uids = append(uids, msg.Uid)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch recent: %w", err)
	}
	return uids, nil
}

func (s *Service) fetchRaw(ctx context.Context, acct *emaildomain.Account, id string) ([]byte, error) {
	validity, uid, err := ParseCursor(id)
	if err != nil {
		return nil, err
	}
	c, mbox, err := s.connect(ctx, acct)
	if err != nil {
		return nil, err
	}
	defer c.Logout()
	if mbox.UidValidity != validity {
		return nil, fmt.Errorf("message %s: %w", id, emaildomain.ErrNotFound)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchUid}, messages)
	}()

	var raw []byte
	for msg := range messages {
		if r := msg.GetBody(section); r != nil {
			raw, err = io.ReadAll(r)
		}
	}
	if ferr := <-done; ferr != nil {
		return nil, fmt.Errorf("uid fetch: %w", ferr)
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("message %s: %w", id, emaildomain.ErrNotFound)
	}
	return raw, nil
}

// Fetch downloads and parses one message
func (s *Service) Fetch(ctx context.Context, acct *emaildomain.Account, id string) (*emaildomain.Document, error) {
	raw, err := s.fetchRaw(ctx, acct, id)
	if err != nil {
		return nil, err
	}
	return Parse(id, raw)
}

// FetchAttachment re-reads the message and returns the bytes of the numbered part
func (s *Service) FetchAttachment(ctx context.Context, acct *emaildomain.Account, messageID, attachmentID string) ([]byte, error) {
	doc, err := s.Fetch(ctx, acct, messageID)
	if err != nil {
		return nil, err
	}
	for _, a := range doc.Attachments {
		if a.ProviderAttachmentID == attachmentID {
			return a.Inline, nil
		}
	}
	return nil, fmt.Errorf("attachment %s: %w", attachmentID, emaildomain.ErrNotFound)
}

// Send submits the message over SMTP with the mailbox credentials
func (s *Service) Send(ctx context.Context, acct *emaildomain.Account, out emaildomain.OutgoingMessage) (string, error) {
	raw, err := compose.Build(acct.EmailAddress, out)
	if err != nil {
		return "", err
	}
	host := acct.SmtpServer
	if host == "" {
		host = strings.Replace(acct.ImapServer, "imap.", "smtp.", 1)
	}
	port := acct.SmtpPort
	if port == 0 {
		port = 587
	}

	recipients := append(append([]string{}, out.To...), out.Cc...)
	auth := sasl.NewPlainClient("", acct.EmailAddress, acct.ImapPassword)
	if err := smtp.SendMail(fmt.Sprintf("%s:%d", host, port), auth, acct.EmailAddress, recipients, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return "", nil
}
