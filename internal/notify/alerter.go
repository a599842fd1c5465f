// Package notify delivers operator alerts over external channels (Telegram,
// Discord). The Alerter consumes engine events and forwards the ones worth
// waking someone up for; routine traffic like bets and claims is ignored
// unless explicitly configured.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperpredict/predictd/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

const sendTimeout = 10 * time.Second

// defaultEvents are the event types forwarded when no explicit list is
// configured: administrative actions and state changes, not per-bet noise.
var defaultEvents = []domain.EventType{
	domain.EventPause,
	domain.EventUnpause,
	domain.EventParamChanged,
	domain.EventTreasuryClaim,
	domain.EventInstanceCreated,
}

// Alerter forwards selected engine events to one or more Senders. It
// implements domain.EventEmitter; delivery happens on a separate goroutine
// so a slow webhook never stalls round transitions.
type Alerter struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewAlerter creates an Alerter that delivers to the given senders. Only
// events whose type appears in the events slice are forwarded; if events is
// empty, a default set of administrative event types is used.
func NewAlerter(senders []Sender, events []string, logger *slog.Logger) *Alerter {
	allowed := make(map[domain.EventType]bool, len(events))
	if len(events) == 0 {
		for _, e := range defaultEvents {
			allowed[e] = true
		}
	} else {
		for _, e := range events {
			allowed[domain.EventType(strings.TrimSpace(e))] = true
		}
	}
	return &Alerter{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

// Emit implements domain.EventEmitter.
func (a *Alerter) Emit(ctx context.Context, ev domain.Event) {
	if len(a.senders) == 0 || !a.events[ev.Type] {
		return
	}
	title, message := format(ev)
	go a.dispatch(title, message)
}

// dispatch sends to every sender with a fresh timeout context. A failing
// sender is logged and skipped; the rest still receive the alert.
func (a *Alerter) dispatch(title, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			a.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.Debug("alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// format renders a human-readable title and body for an event.
func format(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventPause:
		title = "Instance paused"
		message = fmt.Sprintf("instance %s paused at epoch %d; open rounds will be refundable", ev.InstanceID, ev.Epoch)
	case domain.EventUnpause:
		title = "Instance resumed"
		message = fmt.Sprintf("instance %s resumed; genesis restart required before betting reopens", ev.InstanceID)
	case domain.EventParamChanged:
		title = "Parameter changed"
		message = fmt.Sprintf("%s set to %s", ev.Param, ev.Value)
	case domain.EventTreasuryClaim:
		title = "Treasury claimed"
		message = fmt.Sprintf("instance %s: %s base units paid to %s", ev.InstanceID, ev.Amount, ev.User.Hex())
	case domain.EventInstanceCreated:
		title = "Instance created"
		message = fmt.Sprintf("instance %s registered", ev.InstanceID)
	case domain.EventRoundEnd:
		title = "Round settled"
		message = fmt.Sprintf("instance %s: epoch %d closed at price %d", ev.InstanceID, ev.Epoch, ev.Price)
	default:
		title = string(ev.Type)
		message = fmt.Sprintf("instance %s epoch %d", ev.InstanceID, ev.Epoch)
	}
	return title, message
}
