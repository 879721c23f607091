package mail

import (
	"crypto/tls"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/framelight/framelight/internal/config"
)

// sendSMTP delivers a plain-text reply. Port 465 speaks implicit TLS;
// everything else goes through STARTTLS.
func sendSMTP(cfg config.EmailConfig, to, subject, body, inReplyTo string) error {
	server := cfg.SMTPServer
	if server == "" {
		server = deriveSMTPServer(cfg.IMAPServer)
	}
	addr := fmt.Sprintf("%s:%d", server, cfg.SMTPPort)
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, server)
	msg := composeReply(cfg.Username, to, subject, body, inReplyTo)

	if cfg.SMTPPort == 465 {
		return sendImplicitTLS(addr, server, auth, cfg.Username, to, msg)
	}

	if err := smtp.SendMail(addr, auth, cfg.Username, []string{to}, msg); err != nil {
		return fmt.Errorf("send reply via %s: %w", addr, err)
	}
	return nil
}

// sendImplicitTLS handles SMTPS, which net/smtp.SendMail does not speak.
func sendImplicitTLS(addr, server string, auth smtp.Auth, from, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: server})
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := smtp.NewClient(conn, server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// composeReply builds a minimal RFC 5322 plain-text message.
func composeReply(from, to, subject, body, inReplyTo string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", inReplyTo)
	}
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// deriveSMTPServer guesses the SMTP host from the IMAP host for the common
// providers, falling back to an imap→smtp name swap.
func deriveSMTPServer(imapServer string) string {
	lower := strings.ToLower(imapServer)
	switch {
	case strings.Contains(lower, "gmail"):
		return "smtp.gmail.com"
	case strings.Contains(lower, "outlook"), strings.Contains(lower, "hotmail"):
		return "smtp-mail.outlook.com"
	case strings.Contains(lower, "yahoo"):
		return "smtp.mail.yahoo.com"
	default:
		return strings.Replace(imapServer, "imap", "smtp", 1)
	}
}
