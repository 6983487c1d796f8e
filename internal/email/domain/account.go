package domain

import "time"

type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// Account is a connected mailbox. Credentials are sealed at rest.
type Account struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"index;not null"`
	EmailAddress string     `json:"email_address" gorm:"uniqueIndex;not null"`
	Provider     Provider   `json:"provider" gorm:"not null;default:gmail"`
	AccessToken  string     `json:"-" gorm:"type:text"`
	RefreshToken string     `json:"-" gorm:"type:text"`
	TokenExpiry  *time.Time `json:"-"`
	ImapServer   string     `json:"imap_server,omitempty"`
	ImapPort     int        `json:"imap_port,omitempty"`
	ImapPassword string     `json:"-" gorm:"type:text"`
	SmtpServer   string     `json:"smtp_server,omitempty"`
	SmtpPort     int        `json:"smtp_port,omitempty"`
	SyncCursor   string     `json:"sync_cursor,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
