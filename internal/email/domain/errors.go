package domain

import (
	"errors"

	authdomain "kyra-backend/internal/auth/domain"
)

var (
	// ErrCursorExpired means the provider no longer knows the stored sync cursor
	ErrCursorExpired = errors.New("sync cursor expired")
	// ErrAccountCredentials is terminal for a pass: the user must reconnect the account
	ErrAccountCredentials = errors.New("account credentials rejected")
	ErrCommitFailed       = errors.New("sync commit failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = authdomain.ErrForbidden
	// ErrNoCalendarAccount means the user has no Google account to read a calendar from
	ErrNoCalendarAccount = errors.New("no calendar account connected")
)
