package imap

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	emaildomain "kyra-backend/internal/email/domain"
	"kyra-backend/pkg/htmltext"
)

const snippetLength = 200

// Parse normalizes an RFC 5322 message. Attachment bytes are kept inline on the stubs.
func Parse(providerID string, raw []byte) (*emaildomain.Document, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	doc := &emaildomain.Document{ProviderID: providerID}
	doc.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		doc.Sender = formatAddress(from[0])
	} else {
		doc.Sender = h.Get("From")
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			doc.To = append(doc.To, a.Address)
		}
	}
	if date, err := h.Date(); err == nil {
		doc.Timestamp = date.UTC()
	}
	doc.ThreadID = threadID(h)

	var plain, html string
	index := 0
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep what was read so far; a broken trailing part should not drop the message
			break
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			body, rerr := io.ReadAll(p.Body)
			if rerr != nil {
				continue
			}
			switch {
			case ct == "text/plain" && plain == "":
				plain = string(body)
			case ct == "text/html" && html == "":
				html = string(body)
			}
		case *mail.AttachmentHeader:
			index++
			filename, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			body, rerr := io.ReadAll(p.Body)
			if rerr != nil {
				continue
			}
			doc.Attachments = append(doc.Attachments, emaildomain.AttachmentStub{
				ProviderAttachmentID: fmt.Sprintf("part-%d", index),
				Filename:             filename,
				ContentType:          ct,
				Size:                 int64(len(body)),
				Inline:               body,
			})
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		doc.BodyText = strings.TrimSpace(plain)
	case html != "":
		doc.BodyText = htmltext.ToText(html)
	}

	r := []rune(doc.BodyText)
	if len(r) > snippetLength {
		r = r[:snippetLength]
	}
	doc.RawSnippet = string(r)
	return doc, nil
}

// threadID groups replies under the root of their References chain
func threadID(h mail.Header) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		return irt[0]
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return ""
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}
