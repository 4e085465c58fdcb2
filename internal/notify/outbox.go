package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWorkers  = 4
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

// Options tunes delivery.
type Options struct {
	Workers  int
	Attempts int
	Backoff  time.Duration
}

// Outbox implements domain.Notifier and domain.EscalationSink by queueing
// messages. Run drains the queue through a Transport.
type Outbox struct {
	queue     Queue
	transport Transport
	workers   int
	attempts  int
	backoff   time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
	tracer    trace.Tracer
}

var (
	_ domain.Notifier       = (*Outbox)(nil)
	_ domain.EscalationSink = (*Outbox)(nil)
)

// NewOutbox creates an outbox. transport may be nil for a producer-only
// outbox whose queue is drained by another process.
func NewOutbox(queue Queue, transport Transport, opts Options, logger *slog.Logger) *Outbox {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Outbox{
		queue:     queue,
		transport: transport,
		workers:   opts.Workers,
		attempts:  opts.Attempts,
		backoff:   opts.Backoff,
		now:       time.Now,
		sleep:     sleepContext,
		logger:    logger.With("component", "outbox"),
		tracer:    otel.Tracer("offer-engine-notify"),
	}
}

func (o *Outbox) SendOffer(ctx context.Context, candidate *domain.Candidate, item *domain.WorkItem, expiresAt time.Time) error {
	recipient := candidate.Contact
	if recipient == "" {
		recipient = candidate.ID
	}
	return o.enqueue(ctx, &Message{
		Kind:      KindOffer,
		Recipient: recipient,
		WorkItem:  item,
		Candidate: candidate,
		ExpiresAt: &expiresAt,
	})
}

func (o *Outbox) SendDecision(ctx context.Context, recipient string, decision domain.Decision) error {
	return o.enqueue(ctx, &Message{
		Kind:      KindDecision,
		Recipient: recipient,
		Decision:  &decision,
	})
}

func (o *Outbox) NotifyAllDeclined(ctx context.Context, item *domain.WorkItem, outcomes []domain.Outcome) error {
	return o.enqueue(ctx, &Message{
		Kind:      KindEscalation,
		Recipient: EscalationRecipient,
		WorkItem:  item,
		Outcomes:  outcomes,
	})
}

func (o *Outbox) enqueue(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = o.now()

	if err := o.queue.Push(ctx, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "dropped").Inc()
		o.logger.ErrorContext(ctx, "failed to queue notification", "kind", msg.Kind, "recipient", msg.Recipient, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrNotificationDelivery, err)
	}
	metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "queued").Inc()
	o.logger.DebugContext(ctx, "notification queued", "message_id", msg.ID, "kind", msg.Kind)
	return nil
}

// Run starts the delivery workers and blocks until ctx is cancelled and every
// worker has finished its current message.
func (o *Outbox) Run(ctx context.Context) error {
	if o.transport == nil {
		return errors.New("outbox has no transport to deliver with")
	}
	o.logger.Info("starting outbox workers", "workers", o.workers, "attempts", o.attempts)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			o.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	o.logger.Info("outbox workers stopped")
	return nil
}

func (o *Outbox) work(ctx context.Context, worker int) {
	for {
		msg, err := o.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.Error("failed to read from notification queue", "worker", worker, "error", err)
			if o.sleep(ctx, o.backoff) != nil {
				return
			}
			continue
		}
		if msg == nil {
			continue
		}
		// Delivery is detached from ctx so a shutdown lets the current
		// message finish its attempts.
		o.Deliver(context.WithoutCancel(ctx), msg)
	}
}

// Deliver pushes one message through the transport, retrying with a linear
// backoff, and dead-letters it once the attempts are spent or the error is
// permanent. It reports whether the message was delivered.
func (o *Outbox) Deliver(ctx context.Context, msg *Message) bool {
	ctx, span := o.tracer.Start(ctx, "outbox.Deliver", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.kind", string(msg.Kind)),
	))
	defer span.End()

	logger := o.logger.With("message_id", msg.ID, "kind", msg.Kind, "recipient", msg.Recipient)

	for msg.Attempts < o.attempts {
		msg.Attempts++
		err := o.transport.Deliver(ctx, msg)
		if err == nil {
			metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "delivered").Inc()
			logger.Debug("notification delivered", "attempt", msg.Attempts)
			return true
		}
		msg.LastError = err.Error()
		span.RecordError(err)

		if IsPermanent(err) {
			logger.Error("notification rejected by transport", "attempt", msg.Attempts, "error", err)
			break
		}
		if msg.Attempts >= o.attempts {
			logger.Error("notification delivery failed", "attempt", msg.Attempts, "error", err)
			break
		}

		metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "retried").Inc()
		wait := o.backoff * time.Duration(msg.Attempts)
		logger.Warn("notification delivery failed, retrying", "attempt", msg.Attempts, "retry_in", wait, "error", err)
		if err := o.sleep(ctx, wait); err != nil {
			break
		}
	}

	span.SetStatus(codes.Error, "notification dead-lettered")
	metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "dead_lettered").Inc()
	if err := o.queue.DeadLetter(ctx, msg); err != nil {
		logger.Error("failed to dead-letter notification", "error", err)
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
