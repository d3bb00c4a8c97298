// Package events delivers committed ledger events to subscribers: the signal
// bus feeding websocket clients and the event stream, and an AMQP exchange
// for off-chain indexers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
)

const (
	// ChannelPrefix prefixes the pub/sub channel of every event type, e.g.
	// "stakefund:events:bet.placed".
	ChannelPrefix = "stakefund:events:"
	// ChannelPattern matches every event channel.
	ChannelPattern = ChannelPrefix + "*"
	// Stream is the durable stream every event is appended to.
	Stream = "stakefund:events"
)

// Encode renders an event as the JSON envelope sent on every transport.
func Encode(e domain.Event) ([]byte, error) {
	return json.Marshal(e)
}

// BusPublisher publishes events on a domain.SignalBus.
type BusPublisher struct {
	bus domain.SignalBus
}

// NewBusPublisher creates a BusPublisher.
func NewBusPublisher(bus domain.SignalBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// Publish implements domain.EventPublisher.
func (p *BusPublisher) Publish(ctx context.Context, evts []domain.Event) error {
	for _, e := range evts {
		payload, err := Encode(e)
		if err != nil {
			return fmt.Errorf("events: encode %s: %w", e.Type, err)
		}
		if err := p.bus.StreamAppend(ctx, Stream, payload); err != nil {
			return err
		}
		if err := p.bus.Publish(ctx, ChannelPrefix+e.Type, payload); err != nil {
			return err
		}
	}
	return nil
}

// Fanout publishes to every sink, continuing past failures.
type Fanout []domain.EventPublisher

// Publish implements domain.EventPublisher. The returned error joins every
// sink's failure.
func (f Fanout) Publish(ctx context.Context, evts []domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hook returns a ledger hook publishing each committed changeset's events.
// Publishing is best effort: the ledger is the source of truth and events are
// also persisted with the commit.
func Hook(pub domain.EventPublisher, timeout time.Duration, logger *slog.Logger) ledger.Hook {
	logger = logger.With(slog.String("component", "event_publisher"))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(ctx context.Context, cs domain.Changeset) {
		if len(cs.Events) == 0 {
			return
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := pub.Publish(pubCtx, cs.Events); err != nil {
			logger.WarnContext(ctx, "publish events failed",
				slog.Int("events", len(cs.Events)),
				slog.String("error", err.Error()),
			)
		}
	}
}

var (
	_ domain.EventPublisher = (*BusPublisher)(nil)
	_ domain.EventPublisher = Fanout(nil)
)
