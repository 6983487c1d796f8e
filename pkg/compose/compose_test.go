package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	emaildomain "kyra-backend/internal/email/domain"
)

func TestBuild(t *testing.T) {
	raw, err := Build("me@gmail.com", emaildomain.OutgoingMessage{
		To:      []string{"prof@srmist.edu.in", " "},
		Subject: "Re: Lab",
		Body:    "Thanks, noted.",
	})
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "prof@srmist.edu.in")
	assert.Contains(t, s, "Subject: Re: Lab")
	assert.Contains(t, s, "Thanks, noted.")
	assert.NotContains(t, s, "Cc:")
}

func TestBuild_NoRecipients(t *testing.T) {
	_, err := Build("me@gmail.com", emaildomain.OutgoingMessage{Subject: "x"})
	assert.Error(t, err)
}
