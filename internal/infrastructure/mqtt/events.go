package mqtt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

const defaultEventQueueSize = 256

// Publisher is the part of Client the event publisher needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// SessionMessage is the JSON body of a session event. Downstream services
// use it to drop cached sessions for UserID.
type SessionMessage struct {
	Event     string `json:"event"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventPublisher is an auth.EventSink that publishes successful session
// lifecycle events to <prefix>/session/<event>. Publishing happens on a
// background goroutine; when the queue is full events are dropped.
type EventPublisher struct {
	pub    Publisher
	topics Topics
	logger *slog.Logger

	queue   chan SessionMessage
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewEventPublisher starts the publishing goroutine. Call Close to stop it.
func NewEventPublisher(pub Publisher, topics Topics, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &EventPublisher{
		pub:    pub,
		topics: topics,
		logger: logger,
		queue:  make(chan SessionMessage, defaultEventQueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// sessionEventFor maps an orchestrator event to a session event name.
// Failed operations and user administration other than deletion do not
// change sessions and yield ok=false.
func sessionEventFor(ev auth.Event) (string, bool) {
	if ev.Outcome != auth.OutcomeSuccess || ev.UserID == "" {
		return "", false
	}
	switch ev.Type {
	case auth.OpLogin:
		return SessionLogin, true
	case auth.OpLogout:
		return SessionLogout, true
	case auth.OpRefresh:
		return SessionRefresh, true
	case auth.OpRevokeSessions, auth.OpDeleteUser:
		return SessionRevoked, true
	default:
		return "", false
	}
}

// Emit implements auth.EventSink. It never blocks.
func (p *EventPublisher) Emit(_ context.Context, ev auth.Event) {
	name, ok := sessionEventFor(ev)
	if !ok {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	msg := SessionMessage{
		Event:     name,
		UserID:    ev.UserID,
		Username:  ev.Username,
		Timestamp: at.UTC().Format(time.RFC3339),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.Warn("session event dropped, queue full", "event", name, "user_id", ev.UserID)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *EventPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.pub.PublishJSON(p.topics.SessionEvent(msg.Event), msg); err != nil {
			p.logger.Warn("publishing session event failed", "event", msg.Event, "user_id", msg.UserID, "error", err)
		}
	}
}

// Close stops accepting events and waits for queued ones to be published
// or for ctx to end.
func (p *EventPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
