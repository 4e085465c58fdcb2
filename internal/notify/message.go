// Package notify implements the outbound side of the engine: offers,
// decisions and escalations are queued as messages and delivered by a pool of
// workers, with retries and a dead-letter sink, so that no state transition
// ever waits on a person being reached.
package notify

import (
	"context"
	"errors"
	"time"

	"offer-engine/internal/domain"
)

// Kind identifies what a message announces.
type Kind string

const (
	KindOffer      Kind = "offer"
	KindDecision   Kind = "decision"
	KindEscalation Kind = "escalation"
)

// EscalationRecipient addresses escalation messages.
const EscalationRecipient = "supervisors"

// Message is one queued notification.
type Message struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Recipient string            `json:"recipient"`
	WorkItem  *domain.WorkItem  `json:"work_item,omitempty"`
	Candidate *domain.Candidate `json:"candidate,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Decision  *domain.Decision  `json:"decision,omitempty"`
	Outcomes  []domain.Outcome  `json:"outcomes,omitempty"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ErrQueueFull is returned by a queue that cannot take more messages.
var ErrQueueFull = errors.New("notification queue full")

// Queue buffers messages between the engine and the delivery workers.
type Queue interface {
	// Push enqueues msg without waiting for room.
	Push(ctx context.Context, msg *Message) error
	// Pop blocks until a message is available or ctx is done.
	Pop(ctx context.Context) (*Message, error)
	// DeadLetter parks a message that could not be delivered.
	DeadLetter(ctx context.Context, msg *Message) error
}

// Transport hands a message to a concrete channel (webhook, chat, email).
type Transport interface {
	Deliver(ctx context.Context, msg *Message) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a delivery error that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
