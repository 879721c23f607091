// Package mail ingests images from an email mailbox into the store.
//
// The ingestor polls on its own schedule, hands attachments to the store and
// processor, and is the only component that ever touches the network for
// mail. Failures back off exponentially and are never fatal.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/framelight/framelight/internal/config"
	"github.com/framelight/framelight/internal/processor"
	"github.com/framelight/framelight/internal/store"
	"github.com/framelight/framelight/internal/types"
)

// ConnectivityError reports an unreachable or unauthenticated mailbox. It
// drives the poll backoff and is always retried, never fatal.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Attachment is one image file pulled out of a message.
type Attachment struct {
	Filename string
	Data     []byte
}

// Message is a mailbox message carrying image attachments. ID is the RFC
// Message-ID when available, used for reply deduplication; UID is the
// provider-side handle used to flag the message seen.
type Message struct {
	ID          string
	UID         uint32
	From        string
	Subject     string
	Attachments []Attachment
}

// Mailbox abstracts the mail provider. One Fetch/MarkSeen/Close round trip
// happens per poll cycle; implementations may hold a connection between
// Fetch and Close.
type Mailbox interface {
	// Fetch lists unseen messages that carry image attachments.
	Fetch(ctx context.Context) ([]Message, error)
	// MarkSeen flags msg seen so the next poll skips it.
	MarkSeen(ctx context.Context, msg Message) error
	// Reply sends a fixed-text acknowledgement to the sender of msg.
	Reply(ctx context.Context, msg Message, text string) error
	// Close releases the connection after a poll cycle.
	Close() error
}

// Ingestor runs the mailbox polling loop.
type Ingestor struct {
	mailbox Mailbox
	store   *store.Store
	proc    *processor.Processor
	cfg     config.EmailConfig
	backoff *Backoff

	mu   sync.Mutex
	last types.PollResult
}

// NewIngestor wires a mailbox to the store and processor.
func NewIngestor(mb Mailbox, st *store.Store, proc *processor.Processor, cfg config.EmailConfig) *Ingestor {
	return &Ingestor{
		mailbox: mb,
		store:   st,
		proc:    proc,
		cfg:     cfg,
		backoff: NewBackoff(cfg.PollInterval(), cfg.MaxBackoff()),
	}
}

// Backoff exposes the scheduling state for the status surface.
func (in *Ingestor) Backoff() BackoffState {
	return in.backoff.State()
}

// LastResult returns the outcome of the most recent poll cycle.
func (in *Ingestor) LastResult() types.PollResult {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.last
}

// Run polls the mailbox until ctx is cancelled. The first poll happens
// immediately; afterwards the backoff decides the cadence.
func (in *Ingestor) Run(ctx context.Context) {
	for {
		wait := time.Until(in.backoff.NextPollAt())
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		} else if ctx.Err() != nil {
			return
		}

		result := in.pollWithTimeout(ctx)

		in.mu.Lock()
		in.last = result
		in.mu.Unlock()

		if result.Error != "" {
			state := in.backoff.State()
			slog.Warn("mailbox poll failed",
				"error", result.Error,
				"consecutive_failures", state.ConsecutiveFailures,
				"next_poll_at", state.NextPollAt,
			)
		} else if result.Messages > 0 {
			slog.Info("mailbox poll finished",
				"messages", result.Messages,
				"stored", result.Stored,
				"duplicate", result.Duplicate,
				"replied", result.Replied,
			)
		}
	}
}

// StateKey is where the ingestor persists its PollStatus in the store's
// state table, for the status surface to read across processes.
const StateKey = "mail_status"

// PollStatus is the persisted outcome of the most recent poll cycle.
type PollStatus struct {
	Result  types.PollResult `json:"result"`
	Backoff BackoffState     `json:"backoff"`
	At      time.Time        `json:"at"`
}

// persistStatus records the cycle outcome for the status command. Failures
// only cost the status view, never the poll.
func (in *Ingestor) persistStatus(result types.PollResult) {
	data, err := json.Marshal(PollStatus{
		Result:  result,
		Backoff: in.backoff.State(),
		At:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := in.store.SetState(StateKey, string(data)); err != nil {
		slog.Warn("persist poll status", "error", err)
	}
}

// pollWithTimeout bounds one cycle; a timed-out poll counts as a failure.
func (in *Ingestor) pollWithTimeout(ctx context.Context) types.PollResult {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.PollTimeout())
	defer cancel()
	return in.PollOnce(ctx)
}

// PollOnce performs one full poll cycle and updates the backoff. A message
// is flagged seen only after every one of its attachments has been durably
// handed to the store; a crash before that point re-delivers the message,
// and content-id dedup makes the re-delivery idempotent.
func (in *Ingestor) PollOnce(ctx context.Context) types.PollResult {
	var result types.PollResult
	now := time.Now()

	msgs, err := in.mailbox.Fetch(ctx)
	if err != nil {
		in.backoff.Failure(now)
		result.Error = err.Error()
		in.persistStatus(result)
		return result
	}
	defer in.mailbox.Close()

	result.Messages = len(msgs)

	for _, msg := range msgs {
		stored, dup, handled := in.ingestMessage(ctx, msg)
		result.Stored += stored
		result.Duplicate += dup

		if !handled {
			// Leave the message unseen; the next cycle retries it.
			continue
		}

		if in.cfg.AutoReply && len(msg.Attachments) > 0 && in.replyOnce(ctx, msg) {
			result.Replied++
		}

		if err := in.mailbox.MarkSeen(ctx, msg); err != nil {
			slog.Warn("mark seen failed", "message", msg.ID, "error", err)
		}
	}

	in.backoff.Success(now)
	in.persistStatus(result)
	return result
}

// ingestMessage stores every image attachment of msg. handled is false when
// any attachment could not be persisted.
func (in *Ingestor) ingestMessage(ctx context.Context, msg Message) (stored, dup int, handled bool) {
	handled = true
	for _, att := range msg.Attachments {
		rec, isNew, err := in.store.Put(att.Data, types.SourceEmail)
		if err != nil {
			slog.Error("store attachment failed", "message", msg.ID, "file", att.Filename, "error", err)
			handled = false
			continue
		}
		if isNew {
			stored++
			slog.Info("attachment ingested", "id", rec.ID, "file", att.Filename, "from", msg.From)
			in.proc.Submit(context.WithoutCancel(ctx), rec.ID)
		} else {
			dup++
		}
	}
	return stored, dup, handled
}

// replyOnce sends the acknowledgement at most once per source message id,
// tracked persistently so redelivery after a crash never replies twice.
func (in *Ingestor) replyOnce(ctx context.Context, msg Message) bool {
	if msg.ID == "" || in.store.HasReplied(msg.ID) {
		return false
	}
	if err := in.mailbox.Reply(ctx, msg, in.cfg.ReplyMessage); err != nil {
		slog.Warn("auto-reply failed", "message", msg.ID, "error", err)
		return false
	}
	if err := in.store.MarkReplied(msg.ID); err != nil {
		slog.Warn("record reply failed", "message", msg.ID, "error", err)
	}
	return true
}

// imageExtensions are the attachment filename suffixes treated as images.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// isImageAttachment accepts by declared content type or filename extension.
func isImageAttachment(contentType, filename string) bool {
	if strings.HasPrefix(contentType, "image/") {
		return true
	}
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}
