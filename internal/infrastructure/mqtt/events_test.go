package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

type published struct {
	topic string
	msg   SessionMessage
}

type fakePublisher struct {
	mu    sync.Mutex
	got   []published
	err   error
	block chan struct{}
}

func (f *fakePublisher) PublishJSON(topic string, v any) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, _ := v.(SessionMessage) //nolint:errcheck // test fake only receives SessionMessage
	f.got = append(f.got, published{topic: topic, msg: msg})
	return f.err
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.got...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionEventFor(t *testing.T) {
	tests := []struct {
		name   string
		ev     auth.Event
		want   string
		wantOk bool
	}{
		{"login", auth.Event{Type: auth.OpLogin, UserID: "usr-1", Outcome: auth.OutcomeSuccess}, SessionLogin, true},
		{"logout", auth.Event{Type: auth.OpLogout, UserID: "usr-1", Outcome: auth.OutcomeSuccess}, SessionLogout, true},
		{"refresh", auth.Event{Type: auth.OpRefresh, UserID: "usr-1", Outcome: auth.OutcomeSuccess}, SessionRefresh, true},
		{"revoke all", auth.Event{Type: auth.OpRevokeSessions, UserID: "usr-1", Outcome: auth.OutcomeSuccess}, SessionRevoked, true},
		{"delete user", auth.Event{Type: auth.OpDeleteUser, UserID: "usr-1", Outcome: auth.OutcomeSuccess}, SessionRevoked, true},
		{"failed login", auth.Event{Type: auth.OpLogin, UserID: "usr-1", Outcome: auth.OutcomeFailure}, "", false},
		{"register", auth.Event{Type: auth.OpRegister, UserID: "usr-1", Outcome: auth.OutcomeSuccess}, "", false},
		{"update user", auth.Event{Type: auth.OpUpdateUser, UserID: "usr-1", Outcome: auth.OutcomeSuccess}, "", false},
		{"no user", auth.Event{Type: auth.OpLogout, Outcome: auth.OutcomeSuccess}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sessionEventFor(tt.ev)
			if got != tt.want || ok != tt.wantOk {
				t.Errorf("sessionEventFor() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestEventPublisher_PublishesSessionEvents(t *testing.T) {
	fake := &fakePublisher{}
	p := NewEventPublisher(fake, Topics{Prefix: "identity"}, quietLogger())
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p.Emit(ctx, auth.Event{Type: auth.OpLogin, UserID: "usr-1", Username: "alice", Outcome: auth.OutcomeSuccess, At: at})
	p.Emit(ctx, auth.Event{Type: auth.OpLogin, UserID: "usr-1", Outcome: auth.OutcomeFailure, At: at})
	p.Emit(ctx, auth.Event{Type: auth.OpRevokeSessions, UserID: "usr-1", Outcome: auth.OutcomeSuccess, At: at})

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := fake.messages()
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
	if got[0].topic != "identity/session/login" || got[1].topic != "identity/session/revoked" {
		t.Errorf("topics = %q, %q", got[0].topic, got[1].topic)
	}
	want := SessionMessage{Event: SessionLogin, UserID: "usr-1", Username: "alice", Timestamp: "2026-03-01T12:00:00Z"}
	if got[0].msg != want {
		t.Errorf("message = %+v, want %+v", got[0].msg, want)
	}
}

func TestEventPublisher_PublishErrorDoesNotStop(t *testing.T) {
	fake := &fakePublisher{err: ErrNotConnected}
	p := NewEventPublisher(fake, Topics{}, quietLogger())
	ctx := context.Background()

	p.Emit(ctx, auth.Event{Type: auth.OpLogout, UserID: "usr-1", Outcome: auth.OutcomeSuccess})
	p.Emit(ctx, auth.Event{Type: auth.OpLogout, UserID: "usr-2", Outcome: auth.OutcomeSuccess})

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := len(fake.messages()); n != 2 {
		t.Errorf("publish attempts = %d, want 2", n)
	}
}

func TestEventPublisher_DropsWhenFull(t *testing.T) {
	fake := &fakePublisher{block: make(chan struct{})}
	p := NewEventPublisher(fake, Topics{}, quietLogger())
	ctx := context.Background()

	// One message is held by the blocked worker, the rest fill the queue.
	total := defaultEventQueueSize + 10
	for range total {
		p.Emit(ctx, auth.Event{Type: auth.OpLogin, UserID: "usr-1", Outcome: auth.OutcomeSuccess})
	}

	if p.Dropped() < 9 {
		t.Errorf("Dropped() = %d, want at least 9", p.Dropped())
	}

	close(fake.block)
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := int64(len(fake.messages())) + p.Dropped(); got != int64(total) {
		t.Errorf("published + dropped = %d, want %d", got, total)
	}
}

func TestEventPublisher_Close(t *testing.T) {
	fake := &fakePublisher{}
	p := NewEventPublisher(fake, Topics{}, quietLogger())
	ctx := context.Background()

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(ctx); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("second Close() error = %v, want ErrPublisherClosed", err)
	}

	p.Emit(ctx, auth.Event{Type: auth.OpLogin, UserID: "usr-1", Outcome: auth.OutcomeSuccess})
	if n := len(fake.messages()); n != 0 {
		t.Errorf("published %d messages after Close, want 0", n)
	}
}

func TestEventPublisher_CloseHonoursContext(t *testing.T) {
	fake := &fakePublisher{block: make(chan struct{})}
	defer close(fake.block)
	p := NewEventPublisher(fake, Topics{}, quietLogger())

	p.Emit(context.Background(), auth.Event{Type: auth.OpLogin, UserID: "usr-1", Outcome: auth.OutcomeSuccess})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want context.DeadlineExceeded", err)
	}
}
