package domain

import "time"

// Document is a normalized provider message, before it is stored
type Document struct {
	ProviderID  string
	ThreadID    string
	Sender      string
	To          []string
	Subject     string
	Timestamp   time.Time
	BodyText    string
	Attachments []AttachmentStub
	RawSnippet  string
}

// AttachmentStub is attachment metadata; bytes are fetched separately
type AttachmentStub struct {
	ProviderAttachmentID string
	Filename             string
	ContentType          string
	Size                 int64
	// Inline holds the bytes when the provider delivered them with the message
	Inline []byte
}

// OutgoingMessage is a reply or new mail sent through an account
type OutgoingMessage struct {
	To       []string
	Cc       []string
	Subject  string
	Body     string
	ThreadID string
}
