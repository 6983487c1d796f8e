package gmail

import (
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/pkg/htmltext"
)

const snippetLength = 200

// Normalize converts a full-format Gmail message into a Document.
// text/plain wins over text/html; a message without a body part yields an empty body.
func Normalize(msg *gmail.Message) *emaildomain.Document {
	doc := &emaildomain.Document{
		ProviderID: msg.Id,
		ThreadID:   msg.ThreadId,
		RawSnippet: msg.Snippet,
	}
	if msg.InternalDate > 0 {
		doc.Timestamp = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return doc
	}

	headers := msg.Payload.Headers
	doc.Sender = getHeader(headers, "From")
	doc.Subject = getHeader(headers, "Subject")
	doc.To = splitAddresses(getHeader(headers, "To"))
	if doc.Timestamp.IsZero() {
		if t, err := time.Parse(time.RFC1123Z, getHeader(headers, "Date")); err == nil {
			doc.Timestamp = t.UTC()
		}
	}

	plain, html := findBodies(msg.Payload)
	switch {
	case strings.TrimSpace(plain) != "":
		doc.BodyText = strings.TrimSpace(plain)
	case html != "":
		doc.BodyText = htmltext.ToText(html)
	}

	doc.Attachments = getAttachments(msg.Payload)
	if doc.RawSnippet == "" {
		doc.RawSnippet = Snippet(doc.BodyText)
	}
	return doc
}

// Snippet is the first 200 characters of body
func Snippet(body string) string {
	r := []rune(body)
	if len(r) > snippetLength {
		return string(r[:snippetLength])
	}
	return body
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func splitAddresses(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// findBodies walks the MIME tree and returns the first text/plain and text/html bodies
func findBodies(payload *gmail.MessagePart) (plain, html string) {
	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}
		if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
			if data, err := decodeData(part.Body.Data); err == nil {
				mimeType := strings.ToLower(part.MimeType)
				switch {
				case strings.HasPrefix(mimeType, "text/plain") && plain == "":
					plain = string(data)
				case strings.HasPrefix(mimeType, "text/html") && html == "":
					html = string(data)
				}
			}
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(payload)
	return plain, html
}

func getAttachments(payload *gmail.MessagePart) []emaildomain.AttachmentStub {
	var attachments []emaildomain.AttachmentStub

	var findAttachments func(parts []*gmail.MessagePart)
	findAttachments = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil {
				stub := emaildomain.AttachmentStub{
					ProviderAttachmentID: part.Body.AttachmentId,
					Filename:             part.Filename,
					ContentType:          part.MimeType,
					Size:                 part.Body.Size,
				}
				// Small parts come with their data and no attachment id
				if stub.ProviderAttachmentID == "" && part.Body.Data != "" {
					if data, err := decodeData(part.Body.Data); err == nil {
						stub.Inline = data
					}
				}
				if stub.ProviderAttachmentID != "" || stub.Inline != nil {
					attachments = append(attachments, stub)
				}
			}
			if len(part.Parts) > 0 {
				findAttachments(part.Parts)
			}
		}
	}

	findAttachments(payload.Parts)
	return attachments
}
