package audit

import (
	"context"
	"log/slog"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// writerChanSize is the buffer of the async writer. Entries beyond it are
// dropped so auditing never applies back-pressure on authentication.
const writerChanSize = 256

// SourceIdentity marks entries written by the identity service.
const SourceIdentity = "identityd"

// Writer is an auth.EventSink that persists events through a Repository.
// Emit enqueues; Run performs the writes serially, which suits SQLite's
// single writer.
type Writer struct {
	repo   Repository
	logger *slog.Logger
	ch     chan *AuditLog
}

// NewWriter creates a Writer. Start Run in its own goroutine.
func NewWriter(repo Repository, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		repo:   repo,
		logger: logger,
		ch:     make(chan *AuditLog, writerChanSize),
	}
}

// FromEvent converts an orchestrator event into an audit entry. Failed
// operations get a "_failed" suffix on the action (login_failed).
func FromEvent(ev auth.Event) *AuditLog {
	action := ev.Type
	if ev.Outcome == auth.OutcomeFailure {
		action += "_failed"
	}

	entityType := EntitySession
	switch ev.Type {
	case auth.OpRegister, auth.OpUpdateUser, auth.OpDeleteUser:
		entityType = EntityUser
	}

	details := map[string]any{
		"outcome":     ev.Outcome,
		"duration_ms": ev.Duration.Milliseconds(),
	}
	if ev.Username != "" {
		details["username"] = ev.Username
	}
	if ev.Reason != "" {
		details["reason"] = ev.Reason
	}

	return &AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   ev.UserID,
		UserID:     ev.UserID,
		Source:     SourceIdentity,
		Details:    details,
		CreatedAt:  ev.At.UTC(),
	}
}

// Emit implements auth.EventSink. It never blocks.
func (w *Writer) Emit(_ context.Context, ev auth.Event) {
	entry := FromEvent(ev)
	select {
	case w.ch <- entry:
	default:
		w.logger.Warn("audit channel full, dropping entry", "action", entry.Action, "user_id", entry.UserID)
	}
}

// Run writes queued entries until ctx is done, then drains what is left
// and returns.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case entry := <-w.ch:
			w.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-w.ch:
					w.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(entry *AuditLog) {
	if err := w.repo.Create(context.Background(), entry); err != nil {
		w.logger.Error("audit log write failed", "action", entry.Action, "error", err)
	}
}
