package orders

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-flower-orders/internal/events"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/ariefcatur/go-flower-orders/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"strings"
)

// UpdateOrderStatus moves the order through the status machine.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, to Status) (Order, error) {
	return s.UpdateOrder(ctx, orderID, OrderPatch{Status: Some(to)})
}

// UpdateOrder applies a patch under an exclusive lock on the order row.
//
// pending -> paid decrements stock for every line inside the same transaction
// as the status write; one shortage rolls the whole unit back and the order
// stays pending. pending -> cancelled only writes the status. Asking for the
// current status is a no-op. Every other transition is rejected.
func (s *Service) UpdateOrder(ctx context.Context, id string, p OrderPatch) (_ Order, err error) {
	const op = "update_order"
	if e := validID(op, "id", id); e != nil {
		return Order{}, e
	}
	if e := p.validate(op); e != nil {
		return Order{}, e
	}
	attrs := []attribute.KeyValue{attribute.String("order.id", id)}
	if p.Status.Set {
		attrs = append(attrs, attribute.String("order.status.to", string(p.Status.Value)))
	}
	ctx, end := s.begin(ctx, op, attrs...)
	defer end(&err)
	log := logging.FromContext(ctx).With(zap.String("op", op), zap.String("order_id", id))

	var (
		o      Order
		from   Status
		moved  bool
		levels []inventory.Level
	)
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		// FOR UPDATE serializes concurrent pay requests: the loser sees paid
		// and becomes a no-op instead of decrementing twice
		if o, err = tx.OrderByID(ctx, id, LockUpdate); err != nil {
			return err
		}
		if o.Items, err = tx.ItemsByOrder(ctx, id); err != nil {
			return err
		}
		from = o.Status

		changed := false
		if p.Status.Set && p.Status.Value != o.Status {
			to := p.Status.Value
			if !CanTransition(o.Status, to) {
				return &Error{
					Kind: KindValidation,
					Op:   op,
					Msg:  "cannot move order from " + string(o.Status) + " to " + string(to),
					Err:  ErrInvalidTransition,
				}
			}
			if to == StatusPaid {
				lines := make([]inventory.Line, 0, len(o.Items))
				for _, it := range o.Items {
					lines = append(lines, inventory.Line{FlowerID: it.FlowerID, Qty: it.Quantity})
				}
				var shortages []inventory.Shortage
				levels, shortages, err = s.ledger().DecrementAll(ctx, tx, lines)
				if err != nil {
					return err
				}
				if len(shortages) > 0 {
					return insufficient(op, shortages)
				}
			}
			o.Status = to
			moved, changed = true, true
		}
		changed = p.applyFields(&o) || changed
		if !changed {
			return nil
		}
		o.UpdatedAt = s.now()
		return tx.UpdateOrder(ctx, o)
	})
	err = classify(op, err)

	if p.Status.Set && from != "" {
		s.Metrics.Transition(string(from), string(p.Status.Value), transitionOutcome(err, moved))
	}
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindInsufficientStock {
			s.publish(ctx, events.EventStockRejected, id, events.StockRejectedPayload{
				OrderID: id, Reason: "OUT_OF_STOCK", Operation: op, Details: e.Shortages,
			})
		}
		log.Info("order_update_rejected", zap.String("kind", KindOf(err).String()), zap.Error(err))
		return Order{}, err
	}
	if o.Items == nil {
		o.Items = []OrderItem{}
	}

	if moved {
		log.Info("order_status_changed",
			zap.String("from", string(from)),
			zap.String("to", string(o.Status)),
			zap.Int("lines", len(o.Items)),
		)
		switch o.Status {
		case StatusPaid:
			s.publish(ctx, events.EventOrderPaid, id, events.OrderPaidPayload{OrderID: id, StockLevels: levels})
		case StatusCancelled:
			s.publish(ctx, events.EventOrderCancelled, id, events.OrderCancelledPayload{OrderID: id, From: string(from)})
		}
	}
	return o, nil
}

func transitionOutcome(err error, moved bool) string {
	switch {
	case err == nil && moved:
		return "ok"
	case err == nil:
		return "noop"
	}
	return KindOf(err).String()
}

func (p OrderPatch) validate(op string) *Error {
	if p.Status.Set && !p.Status.Value.Valid() {
		return invalid(op, "status must be one of pending, paid, cancelled")
	}
	for field, v := range map[string]Optional[string]{
		"name":              p.Name,
		"phone_number":      p.PhoneNumber,
		"address":           p.Address,
		"telegram_username": p.TelegramUsername,
	} {
		if v.Set && strings.TrimSpace(v.Value) == "" {
			return invalid(op, "%s must not be empty", field)
		}
	}
	return nil
}

// applyFields copies set, differing fields onto o and reports whether any did.
func (p OrderPatch) applyFields(o *Order) bool {
	changed := false
	set := func(dst *string, v Optional[string]) {
		if v.Set && *dst != v.Value {
			*dst = v.Value
			changed = true
		}
	}
	set(&o.Name, p.Name)
	set(&o.PhoneNumber, p.PhoneNumber)
	set(&o.Address, p.Address)
	set(&o.TelegramUsername, p.TelegramUsername)
	return changed
}
