package dto

import (
	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/internal/email/usecase"
)

type EmailsResponse struct {
	Emails []*emaildomain.Email `json:"emails"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
	Total  int64                `json:"total"`
}

type AccountsResponse struct {
	Accounts []*emaildomain.Account `json:"accounts"`
}

type InteractionRequest struct {
	Action emaildomain.InteractionAction `json:"action" binding:"required"`
}

type SyncResponse struct {
	Results []*usecase.SyncResult `json:"results"`
	Errors  []string              `json:"errors,omitempty"`
}

type SendEmailResponse struct {
	MessageID string `json:"message_id"`
}

type WatchResponse struct {
	HistoryID uint64 `json:"history_id"`
}

type BackfillResponse struct {
	Queued int `json:"queued"`
}
