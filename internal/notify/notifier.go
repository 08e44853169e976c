// Package notify delivers protocol lifecycle alerts to operators over
// Telegram, Discord and signed webhooks, filtered by event kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// Alert is a rendered notification.
type Alert struct {
	Kind  string        `json:"kind"`
	Title string        `json:"title"`
	Text  string        `json:"text"`
	Event *domain.Event `json:"event,omitempty"`
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans alerts out to every sender. Kind filters are path.Match
// patterns, so "question.*" selects every question event. An empty filter
// list forwards everything.
type Notifier struct {
	senders  []Sender
	patterns []string
	format   Formatter
	logger   *slog.Logger
}

// NewNotifier creates a Notifier over senders.
func NewNotifier(senders []Sender, events []string, format Formatter, logger *slog.Logger) *Notifier {
	var patterns []string
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			patterns = append(patterns, e)
		}
	}
	return &Notifier{
		senders:  senders,
		patterns: patterns,
		format:   format,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Wants reports whether events of kind pass the filter.
func (n *Notifier) Wants(kind domain.EventKind) bool {
	if len(n.patterns) == 0 {
		return true
	}
	for _, p := range n.patterns {
		if ok, _ := path.Match(p, string(kind)); ok {
			return true
		}
	}
	return false
}

// NotifyEvent renders e and sends it if its kind passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, e domain.Event) error {
	if !n.Wants(e.Kind) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(e.Kind)))
		return nil
	}
	a := n.format.Event(e)
	return n.dispatch(ctx, a)
}

// NotifyAll sends an operational alert regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, text string) error {
	return n.dispatch(ctx, Alert{Kind: "ops", Title: title, Text: text})
}

// dispatch tries every sender; one failing does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("kind", a.Kind),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", a.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
