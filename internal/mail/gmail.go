package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/framelight/framelight/internal/config"
)

// gmailScopes cover reading attachments, flagging messages and replying.
var gmailScopes = []string{
	gm.GmailReadonlyScope,
	gm.GmailModifyScope,
	gm.GmailSendScope,
}

// GmailMailbox reads a Gmail account through the native API instead of IMAP.
// Credentials follow the usual OAuth layout: credentials.json next to a
// token.json that is refreshed in place.
type GmailMailbox struct {
	svc  *gm.Service
	cfg  config.EmailConfig
	uids map[string]string // our Message.ID -> gmail message id
}

// NewGmailMailbox authenticates against Gmail with the configured
// credentials directory.
func NewGmailMailbox(ctx context.Context, cfg config.EmailConfig) (*GmailMailbox, error) {
	client, err := oauthClient(ctx, cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("gmail auth: %w", err)
	}
	svc, err := gm.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &GmailMailbox{svc: svc, cfg: cfg, uids: make(map[string]string)}, nil
}

// Fetch lists unread messages with attachments and downloads their images.
func (g *GmailMailbox) Fetch(ctx context.Context) ([]Message, error) {
	resp, err := g.svc.Users.Messages.List("me").
		Q("is:unread has:attachment in:inbox").
		MaxResults(50).
		Context(ctx).
		Do()
	if err != nil {
		return nil, &ConnectivityError{Op: "list messages", Err: err}
	}

	var msgs []Message
	for _, stub := range resp.Messages {
		full, err := g.svc.Users.Messages.Get("me", stub.Id).Format("full").Context(ctx).Do()
		if err != nil {
			// Skip individual message failures.
			continue
		}

		headers := headerMap(full.Payload.Headers)
		msg := Message{
			ID:      headers["Message-ID"],
			From:    headers["From"],
			Subject: headers["Subject"],
		}
		if msg.ID == "" {
			msg.ID = "gmail-" + full.Id
		}
		g.uids[msg.ID] = full.Id

		for _, part := range flattenParts(full.Payload) {
			if part.Filename == "" || part.Body == nil {
				continue
			}
			if !isImageAttachment(part.MimeType, part.Filename) {
				continue
			}
			data, err := g.attachmentData(ctx, full.Id, part)
			if err != nil || len(data) == 0 {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{Filename: part.Filename, Data: data})
		}

		if len(msg.Attachments) > 0 {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// attachmentData returns the part's payload, downloading it separately when
// Gmail only inlined a reference.
func (g *GmailMailbox) attachmentData(ctx context.Context, messageID string, part *gm.MessagePart) ([]byte, error) {
	if part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	if part.Body.AttachmentId == "" {
		return nil, fmt.Errorf("attachment %s has no payload", part.Filename)
	}
	att, err := g.svc.Users.Messages.Attachments.Get("me", messageID, part.Body.AttachmentId).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	return decodeBase64URL(att.Data)
}

// MarkSeen removes the UNREAD label.
func (g *GmailMailbox) MarkSeen(ctx context.Context, msg Message) error {
	id, ok := g.uids[msg.ID]
	if !ok {
		return fmt.Errorf("mark seen: unknown message %s", msg.ID)
	}
	_, err := g.svc.Users.Messages.Modify("me", id, &gm.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("remove unread label: %w", err)
	}
	return nil
}

// Reply sends the acknowledgement through the Gmail API.
func (g *GmailMailbox) Reply(ctx context.Context, msg Message, text string) error {
	if msg.From == "" {
		return fmt.Errorf("reply: message has no sender")
	}
	subject := msg.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	raw := composeReply(g.cfg.Username, msg.From, subject, text, msg.ID)
	_, err := g.svc.Users.Messages.Send("me", &gm.Message{
		Raw: base64.RawURLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// Close is a no-op; the API client is stateless between polls.
func (g *GmailMailbox) Close() error { return nil }

// flattenParts walks the MIME tree depth first.
func flattenParts(payload *gm.MessagePart) []*gm.MessagePart {
	if payload == nil {
		return nil
	}
	parts := []*gm.MessagePart{payload}
	for _, p := range payload.Parts {
		parts = append(parts, flattenParts(p)...)
	}
	return parts
}

// headerMap converts Gmail API headers into a simple key-value map.
func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Name] = h.Value
	}
	return m
}

// decodeBase64URL decodes Gmail's base64url-encoded content, tolerating
// missing padding.
func decodeBase64URL(data string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(data)
}
