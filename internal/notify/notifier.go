// Package notify sends operator alerts about failed exercises, failed gas
// estimates and market creation to Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event kinds the service emits.
const (
	EventExerciseFailed = "exercise_failed"
	EventEstimateFailed = "estimate_failed"
	EventMarketCreated  = "market_created"
	EventCreationFailed = "creation_failed"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every Sender, dropping event kinds that are
// not enabled. A nil *Notifier is valid and sends nothing.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list enables every kind.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	enabled := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			enabled[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  enabled,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers title and the key/value detail lines for event. Detail is
// rendered in the order given.
func (n *Notifier) Notify(ctx context.Context, event, title string, detail ...string) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.dispatch(ctx, title, formatDetail(detail))
}

// formatDetail renders alternating key, value pairs one per line. A
// trailing key without a value is emitted on its own.
func formatDetail(kv []string) string {
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte('\n')
		}
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%s: %s", kv[i], kv[i+1])
		} else {
			b.WriteString(kv[i])
		}
	}
	return b.String()
}

// dispatch tries every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
