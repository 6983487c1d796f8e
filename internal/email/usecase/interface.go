package usecase

import (
	"context"
	"fmt"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/enrichment"
)

// MailboxProvider is implemented by every mail backend (Gmail, IMAP). The account
// passed in carries opened credentials.
type MailboxProvider interface {
	// ListSince lists message ids added after cursor, or the limit most recent ones when
	// cursor is empty, and returns the cursor to store after a successful pass
	ListSince(ctx context.Context, acct *emaildomain.Account, cursor string, limit int) (ids []string, next string, err error)
	Fetch(ctx context.Context, acct *emaildomain.Account, id string) (*emaildomain.Document, error)
	FetchAttachment(ctx context.Context, acct *emaildomain.Account, messageID, attachmentID string) ([]byte, error)
	Send(ctx context.Context, acct *emaildomain.Account, out emaildomain.OutgoingMessage) (string, error)
}

// ProviderRegistry picks the backend of an account
type ProviderRegistry map[emaildomain.Provider]MailboxProvider

func (r ProviderRegistry) For(p emaildomain.Provider) (MailboxProvider, error) {
	if mp, ok := r[p]; ok && mp != nil {
		return mp, nil
	}
	return nil, fmt.Errorf("no mailbox provider for %q", p)
}

// Enricher is the part of the enrichment engine the email usecases call
type Enricher interface {
	ClassifyBatch(ctx context.Context, docs []*emaildomain.Document) map[string]enrichment.Classification
	DetectTask(ctx context.Context, text string) enrichment.TaskDetection
	SummarizeThread(ctx context.Context, threadText string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, bool)
	Generate(ctx context.Context, prompt string) (string, error)
	Digest(ctx context.Context, digestContext string) (string, error)
}

// Sealer encrypts credentials at rest
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// EmbeddingStore receives email vectors (pgvector column or an external index)
type EmbeddingStore interface {
	StoreEmbedding(ctx context.Context, userID, emailID string, vec []float32) error
}

// CriticalNotifier is told about Critical messages after they are committed
type CriticalNotifier interface {
	NotifyCritical(ctx context.Context, userID string, emails []emaildomain.Email)
}

// EmbeddingQueue accepts emails whose vectors should be computed in the background
type EmbeddingQueue interface {
	Enqueue(job EmbeddingJob) bool
}

// openAccount returns a copy of acct with its credentials decrypted
func openAccount(box Sealer, acct *emaildomain.Account) (*emaildomain.Account, error) {
	live := *acct
	if box == nil {
		return &live, nil
	}
	var err error
	if live.AccessToken, err = box.Open(acct.AccessToken); err != nil {
		return nil, fmt.Errorf("%w: access token: %v", emaildomain.ErrAccountCredentials, err)
	}
	if live.RefreshToken, err = box.Open(acct.RefreshToken); err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", emaildomain.ErrAccountCredentials, err)
	}
	if live.ImapPassword, err = box.Open(acct.ImapPassword); err != nil {
		return nil, fmt.Errorf("%w: imap password: %v", emaildomain.ErrAccountCredentials, err)
	}
	return &live, nil
}
