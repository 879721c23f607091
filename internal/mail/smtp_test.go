package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSMTPServer(t *testing.T) {
	cases := map[string]string{
		"imap.gmail.com":        "smtp.gmail.com",
		"outlook.office365.com": "smtp-mail.outlook.com",
		"imap-mail.hotmail.com": "smtp-mail.outlook.com",
		"imap.mail.yahoo.com":   "smtp.mail.yahoo.com",
		"imap.fastmail.com":     "smtp.fastmail.com",
		"mail.example.org":      "mail.example.org",
	}
	for in, want := range cases {
		assert.Equal(t, want, deriveSMTPServer(in), "imap server %s", in)
	}
}

func TestComposeReply(t *testing.T) {
	msg := string(composeReply(
		"frame@example.com",
		"grandma@example.com",
		"Re: holiday pictures",
		"Picture received and added to the frame!",
		"<photo1@example.com>",
	))

	head, body, found := strings.Cut(msg, "\r\n\r\n")
	assert.True(t, found, "message needs a blank line between headers and body")

	assert.Contains(t, head, "From: frame@example.com\r\n")
	assert.Contains(t, head, "To: grandma@example.com\r\n")
	assert.Contains(t, head, "Subject: Re: holiday pictures\r\n")
	assert.Contains(t, head, "In-Reply-To: <photo1@example.com>\r\n")
	assert.Contains(t, head, "References: <photo1@example.com>\r\n")
	assert.Contains(t, head, "Content-Type: text/plain; charset=utf-8")
	assert.Contains(t, body, "Picture received and added to the frame!")
}

func TestComposeReplyWithoutMessageID(t *testing.T) {
	msg := string(composeReply("a@example.com", "b@example.com", "Re: pics", "thanks", ""))
	assert.NotContains(t, msg, "In-Reply-To")
	assert.NotContains(t, msg, "References")
}

func TestComposeReplyEncodesSubject(t *testing.T) {
	msg := string(composeReply("a@example.com", "b@example.com", "Re: Grüße vom See", "x", ""))
	// Non-ASCII subjects get Q-encoded per RFC 2047.
	assert.Contains(t, msg, "=?utf-8?q?")
}
