// Package compose renders outgoing mail.
package compose

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	emaildomain "kyra-backend/internal/email/domain"
)

// Build renders an RFC 5322 message with a single text/plain body
func Build(from string, out emaildomain.OutgoingMessage) ([]byte, error) {
	to := addresses(out.To)
	if len(to) == 0 {
		return nil, fmt.Errorf("compose: no recipients")
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", to)
	if cc := addresses(out.Cc); len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(out.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := w.Write([]byte(out.Body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, &mail.Address{Address: a})
		}
	}
	return out
}
