package auth

import (
	"context"
	"time"
)

// Operation names carried by events.
const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpRefresh        = "refresh"
	OpLogout         = "logout"
	OpRevokeSessions = "revoke_sessions"
	OpUpdateUser     = "update_user"
	OpDeleteUser     = "delete_user"
)

// Outcomes carried by events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event describes the result of one orchestrator operation. It never
// contains a password or a raw token.
type Event struct {
	Type     string        `json:"type"`
	UserID   string        `json:"user_id,omitempty"`
	Username string        `json:"username,omitempty"`
	Outcome  string        `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

// EventSink receives events. Emit must not block for long; slow sinks
// buffer or drop.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinks fans an event out to several sinks in order.
type EventSinks []EventSink

// Emit implements EventSink.
func (s EventSinks) Emit(ctx context.Context, ev Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(ctx, ev)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) {}
