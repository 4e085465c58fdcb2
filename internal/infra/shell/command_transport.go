// internal/infra/shell/command_transport.go
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"offer-engine/internal/notify"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultCommandTimeout = 30 * time.Second

// CommandTransport hands each message to a shell command, JSON on stdin. It
// lets sites plug in a mail or paging script without a webhook receiver.
type CommandTransport struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewCommandTransport creates a transport running command through bash -c,
// killing it after timeout. A zero timeout means 30s.
func NewCommandTransport(command string, timeout time.Duration, logger *slog.Logger) *CommandTransport {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &CommandTransport{
		command: command,
		timeout: timeout,
		logger:  logger.With("component", "command-transport"),
		tracer:  otel.Tracer("offer-engine-command-transport"),
	}
}

// Deliver runs the command once. A non-zero exit is retried by the outbox.
func (t *CommandTransport) Deliver(ctx context.Context, msg *notify.Message) error {
	ctx, span := t.tracer.Start(ctx, "command.Deliver",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.kind", string(msg.Kind)),
		))
	defer span.End()

	payload, err := json.Marshal(msg)
	if err != nil {
		return notify.Permanent(fmt.Errorf("failed to encode message: %w", err))
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", t.command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = time.Second
	cmd.Env = append(cmd.Environ(),
		"MESSAGE_ID="+msg.ID,
		"MESSAGE_KIND="+string(msg.Kind),
		"MESSAGE_RECIPIENT="+msg.Recipient,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			span.SetAttributes(attribute.String("shell.stderr", stderr.String()))
		}
		span.SetStatus(codes.Error, "notification command failed")
		span.RecordError(err)
		return fmt.Errorf("notification command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	t.logger.DebugContext(ctx, "notification command succeeded", "message_id", msg.ID)
	return nil
}
