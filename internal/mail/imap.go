package mail

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	gomail "github.com/emersion/go-message/mail"

	"github.com/framelight/framelight/internal/config"
)

// IMAPMailbox reads a standard IMAP inbox. A fresh connection is dialed per
// poll cycle and closed afterwards; picture frames poll rarely enough that
// keeping sessions alive buys nothing.
type IMAPMailbox struct {
	cfg    config.EmailConfig
	client *client.Client
}

// NewIMAPMailbox builds a mailbox for the configured IMAP account.
func NewIMAPMailbox(cfg config.EmailConfig) *IMAPMailbox {
	return &IMAPMailbox{cfg: cfg}
}

// Fetch connects, selects INBOX and returns all unseen messages that carry
// image attachments. Messages are fetched with BODY.PEEK so listing alone
// never flips the seen flag.
func (m *IMAPMailbox) Fetch(ctx context.Context) ([]Message, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.IMAPServer, m.cfg.IMAPPort)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, &ConnectivityError{Op: "dial " + addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}
	m.client = c

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		m.Close()
		return nil, &ConnectivityError{Op: "login", Err: err}
	}
	if _, err := c.Select("INBOX", false); err != nil {
		m.Close()
		return nil, &ConnectivityError{Op: "select inbox", Err: err}
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		m.Close()
		return nil, &ConnectivityError{Op: "search", Err: err}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	var msgs []Message
	for raw := range ch {
		msg := parseIMAPMessage(raw, section)
		if len(msg.Attachments) > 0 {
			msgs = append(msgs, msg)
		}
	}
	if err := <-done; err != nil {
		m.Close()
		return nil, &ConnectivityError{Op: "fetch", Err: err}
	}
	return msgs, nil
}

// parseIMAPMessage extracts envelope fields and image attachments.
func parseIMAPMessage(raw *imap.Message, section *imap.BodySectionName) Message {
	msg := Message{UID: raw.Uid}

	if env := raw.Envelope; env != nil {
		msg.ID = env.MessageId
		msg.Subject = env.Subject
		if len(env.From) > 0 {
			msg.From = env.From[0].Address()
		}
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("imap-uid-%d", raw.Uid)
	}

	body := raw.GetBody(section)
	if body == nil {
		return msg
	}
	mr, err := gomail.CreateReader(body)
	if err != nil {
		return msg
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		var filename, contentType string
		switch h := part.Header.(type) {
		case *gomail.AttachmentHeader:
			filename, _ = h.Filename()
			contentType, _, _ = h.ContentType()
		case *gomail.InlineHeader:
			// InlineHeader has no Filename helper; mirror
			// AttachmentHeader.Filename's lookup.
			if _, params, _ := h.ContentDisposition(); params["filename"] != "" {
				filename = params["filename"]
			} else {
				_, params, _ := h.ContentType()
				filename = params["name"]
			}
			contentType, _, _ = h.ContentType()
		default:
			continue
		}

		if !isImageAttachment(contentType, filename) {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil || len(data) == 0 {
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{Filename: filename, Data: data})
	}
	return msg
}

// MarkSeen sets the \Seen flag on the message.
func (m *IMAPMailbox) MarkSeen(ctx context.Context, msg Message) error {
	if m.client == nil {
		return fmt.Errorf("mark seen: no open connection")
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(msg.UID)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark seen uid %d: %w", msg.UID, err)
	}
	return nil
}

// Reply sends the acknowledgement over SMTP using the same credentials.
func (m *IMAPMailbox) Reply(ctx context.Context, msg Message, text string) error {
	if msg.From == "" {
		return fmt.Errorf("reply: message has no sender")
	}
	subject := msg.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	return sendSMTP(m.cfg, msg.From, subject, text, msg.ID)
}

// Close logs out of the IMAP session opened by Fetch.
func (m *IMAPMailbox) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Logout()
	m.client = nil
	return err
}
