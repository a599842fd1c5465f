// Package events provides event emitter plumbing: a fanout that multiplexes
// one emission to several sinks and a structured-log sink.
package events

import (
	"context"
	"log/slog"

	"github.com/hyperpredict/predictd/internal/domain"
)

// Fanout emits every event to each of its sinks in order. Sinks must be
// non-blocking per the emitter contract, so fanout emission is cheap.
type Fanout struct {
	sinks []domain.EventEmitter
}

// NewFanout creates a fanout over sinks. Nil sinks are skipped.
func NewFanout(sinks ...domain.EventEmitter) *Fanout {
	out := make([]domain.EventEmitter, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

// Add appends further sinks. Not safe for use once emission has started;
// call it only during wiring.
func (f *Fanout) Add(sinks ...domain.EventEmitter) {
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
}

// Emit forwards ev to every sink.
func (f *Fanout) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range f.sinks {
		s.Emit(ctx, ev)
	}
}

// LogEmitter writes every event to the structured log.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With(slog.String("component", "events"))}
}

// Emit logs ev at info level with its salient fields.
func (l *LogEmitter) Emit(_ context.Context, ev domain.Event) {
	attrs := []any{
		slog.String("type", string(ev.Type)),
		slog.String("instance", ev.InstanceID),
	}
	if ev.Epoch != 0 {
		attrs = append(attrs, slog.Uint64("epoch", ev.Epoch))
	}
	if ev.User != domain.ZeroAddress {
		attrs = append(attrs, slog.String("user", ev.User.Hex()))
	}
	if ev.Amount != nil {
		attrs = append(attrs, slog.String("amount", ev.Amount.String()))
	}
	if ev.Param != "" {
		attrs = append(attrs, slog.String("param", ev.Param), slog.String("value", ev.Value))
	}
	l.logger.Info("event", attrs...)
}

// Compile-time interface checks.
var (
	_ domain.EventEmitter = (*Fanout)(nil)
	_ domain.EventEmitter = (*LogEmitter)(nil)
)
