// Package notify fans engine events out to chat channels (Telegram,
// Discord). Operators choose which event types they want to hear about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers events to every sender, filtered by event type.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event types listed in events are
// forwarded by Notify; an empty list forwards everything.
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

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify formats ev and sends it if its type passes the filter.
func (n *Notifier) Notify(ctx context.Context, ev domain.EngineEvent) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", ev.Type))
		return nil
	}
	return n.dispatch(ctx, Title(ev), Body(ev))
}

// NotifyAll sends a free-form message regardless of the filter. Used for
// startup and shutdown notices.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender. One failing sender does not stop the
// others; all failures are reported together.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Title renders a one-line heading for ev.
func Title(ev domain.EngineEvent) string {
	name := strings.ReplaceAll(ev.Type, "_", " ")
	if ev.TradeID == "" {
		return name
	}
	return fmt.Sprintf("%s %s", name, ev.TradeID)
}

// Body renders ev's message followed by its fields in key order.
func Body(ev domain.EngineEvent) string {
	var b strings.Builder
	b.WriteString(ev.Message)
	for _, k := range slices.Sorted(maps.Keys(ev.Fields)) {
		fmt.Fprintf(&b, "\n%s: %v", k, ev.Fields[k])
	}
	return b.String()
}
