// Package projector keeps a read-side copy of flower stock in redis, fed by
// the stock levels carried on order events.
package projector

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-flower-orders/internal/events"
	kafkax "github.com/ariefcatur/go-flower-orders/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"time"
)

type Dedup interface {
	Mark(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type StockWriter interface {
	SetStock(ctx context.Context, flowerID string, remaining int, at time.Time) (bool, error)
}

// Topics lists what the projector consumes.
var Topics = []string{events.TopicOrderItemCreated, events.TopicOrderPaid}

type Projector struct {
	Dedup             Dedup
	Stock             StockWriter
	LowStockThreshold int
	Log               *zap.Logger
}

func (p *Projector) log() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

// Handle is installed as the consumer handler. Undecodable messages are
// logged and skipped so they do not block the partition.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		p.log().Warn("projector_bad_message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != events.EventOrderItemCreated && env.EventType != events.EventOrderPaid {
		return nil
	}

	first, err := p.Dedup.Mark(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		p.log().Debug("projector_duplicate", zap.String("event_id", env.EventID))
		return nil
	}

	levels, err := events.StockLevels(env)
	if err != nil {
		p.log().Warn("projector_bad_payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	for _, lv := range levels {
		at := lv.At
		if at.IsZero() {
			at = env.OccurredAt
		}
		applied, err := p.Stock.SetStock(ctx, lv.FlowerID, lv.Remaining, at)
		if err != nil {
			_ = p.Dedup.Forget(context.WithoutCancel(ctx), env.EventID)
			return fmt.Errorf("project stock %s: %w", lv.FlowerID, err)
		}
		if !applied {
			continue // a newer level is already projected
		}
		if lv.Remaining <= p.LowStockThreshold {
			p.log().Warn("low_stock",
				zap.String("flower_id", lv.FlowerID),
				zap.Int("remaining", lv.Remaining),
				zap.Int("threshold", p.LowStockThreshold),
				zap.String("order_id", env.CorrelationID),
			)
		}
	}
	return nil
}
