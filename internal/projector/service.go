package projector

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

type StatusWriter interface {
	Put(ctx context.Context, cs redisx.CachedStatus) error
}

// Deduper records processed event ids. Seen reports whether key was already
// recorded and records it otherwise; Forget undoes that after a failure.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Service projects fulfillment events into the order status cache.
type Service struct {
	Cache       StatusWriter
	Dedup       Deduper
	Log         *logger.Logger
	ServiceName string
}

// HandleEvent is installed as the consumer handler. Every payload embeds an
// OrderRef, so the projection does not branch on event type.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.Log.Warn("dropping undecodable message", "offset", m.Offset, "type", kafkax.Header(m, kafkax.HeaderEventType), "err", err)
		return nil
	}
	if env.EventID == "" {
		s.Log.Warn("dropping event without id", "offset", m.Offset, "type", env.EventType)
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	seen, err := s.Dedup.Seen(ctx, dkey)
	if err != nil {
		return err
	}
	if seen {
		s.Log.Debug("duplicate event", "event_id", env.EventID, "type", env.EventType)
		return nil
	}

	ref, err := kafkax.UnwrapPayload[orders.OrderRef](env.Payload)
	if err != nil || ref.OrderID == "" {
		s.Log.Warn("event without order ref", "event_id", env.EventID, "type", env.EventType, "err", err)
		return nil
	}

	err = s.Cache.Put(ctx, redisx.CachedStatus{
		OrderID: ref.OrderID,
		Status:  string(ref.Status),
		Version: ref.Version,
		AsOf:    env.OccurredAt,
	})
	if err != nil {
		if ferr := s.Dedup.Forget(ctx, dkey); ferr != nil {
			s.Log.Warn("forget dedup key", "key", dkey, "err", ferr)
		}
		return err
	}
	s.Log.Debug("status projected", "order_id", ref.OrderID, "status", ref.Status, "version", ref.Version, "type", env.EventType, "trace_id", env.TraceID)
	return nil
}
