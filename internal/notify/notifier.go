// Package notify delivers operator alerts (round settled, settlement failed)
// to chat webhooks. Each event type can be muted through configuration.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender whose event type is enabled.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	dedup   *Dedup
	logger  *slog.Logger
}

// NewNotifier forwards only the listed events; an empty list forwards all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithDedup drops an alert whose event and title were already delivered
// within window. A zero window leaves every alert through.
func (n *Notifier) WithDedup(window time.Duration) *Notifier {
	if window > 0 {
		n.dedup = NewDedup(window)
	}
	return n
}

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers to every sender. One failing sender does not stop the
// others; all failures are joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	key := event + "|" + title
	if n.dedup != nil && n.dedup.IsDuplicate(key) {
		n.logger.DebugContext(ctx, "notifier: duplicate suppressed",
			slog.String("event", event),
			slog.String("title", title),
		)
		return nil
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "notifier: send failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		if n.dedup != nil && len(errs) == len(n.senders) {
			n.dedup.Forget(key)
		}
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
