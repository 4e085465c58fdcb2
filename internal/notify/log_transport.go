package notify

import (
	"context"
	"log/slog"
)

// LogTransport writes messages to the log instead of reaching a person. It is
// the transport used when no webhook is configured.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a log transport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger.With("component", "log-transport")}
}

func (t *LogTransport) Deliver(_ context.Context, msg *Message) error {
	attrs := []any{"message_id", msg.ID, "kind", msg.Kind, "recipient", msg.Recipient}
	if msg.WorkItem != nil {
		attrs = append(attrs, "work_item_id", msg.WorkItem.ID)
	}
	switch msg.Kind {
	case KindOffer:
		attrs = append(attrs, "expires_at", msg.ExpiresAt)
	case KindDecision:
		attrs = append(attrs, "status", msg.Decision.Status, "candidate_id", msg.Decision.CandidateID)
	case KindEscalation:
		attrs = append(attrs, "outcomes", len(msg.Outcomes))
	}
	t.logger.Info("notification", attrs...)
	return nil
}
