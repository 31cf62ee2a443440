package notification

import (
	"context"
	"log/slog"
)

const (
	// KindAuditWriteFailed reports a transfer that moved money without an audit record.
	KindAuditWriteFailed = "audit_write_failed"
)

// Message describes an operator alert.
type Message struct {
	Kind string
	// Reference identifies the affected transfer, usually its request ID.
	Reference string
	Body      string
	Fields    map[string]string
}

// Notifier delivers alerts to operators.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes alerts to the structured logger at error level so log
// based alerting picks them up.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("kind", message.Kind),
		slog.String("reference", message.Reference),
		slog.String("body", message.Body),
	}
	for k, v := range message.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger.LogAttrs(ctx, slog.LevelError, "operator alert", attrs...)
	return nil
}
