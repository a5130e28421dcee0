package orders

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-flower-orders/internal/events"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/ariefcatur/go-flower-orders/internal/logging"
	"github.com/ariefcatur/go-flower-orders/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"strings"
	"time"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-flower-orders/internal/orders")

// Service is the order core: the line-item pipeline and the status machine.
// It performs no retries; every error is an *Error the caller can branch on.
type Service struct {
	Store     Store
	Ledger    *inventory.Ledger
	Publisher events.Publisher
	Metrics   *metrics.Collector
	Producer  string // envelope producer name
	Now       func() time.Time
}

func (s *Service) ledger() *inventory.Ledger {
	if s.Ledger == nil {
		return &inventory.Ledger{Metrics: s.Metrics}
	}
	return s.Ledger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// begin opens a span and returns the closer that records outcome and latency.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "orders."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(errp *error) {
		s.Metrics.ObserveTx(op, time.Since(start).Seconds())
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err).String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func validID(op, field, id string) *Error {
	if _, err := uuid.Parse(id); err != nil {
		return invalid(op, "%s must be a uuid", field)
	}
	return nil
}

// ---- order line pipeline ----

// CreateOrderItem decrements the flower's stock and inserts the line in one
// transaction. On InsufficientStock nothing is written.
func (s *Service) CreateOrderItem(ctx context.Context, in NewOrderItem) (_ OrderItem, err error) {
	const op = "create_order_item"
	if e := validID(op, "order_id", in.OrderID); e != nil {
		return OrderItem{}, e
	}
	if e := validID(op, "flower_id", in.FlowerID); e != nil {
		return OrderItem{}, e
	}
	if in.Quantity <= 0 {
		return OrderItem{}, invalid(op, "quantity must be greater than zero")
	}
	if in.Price < 0 {
		return OrderItem{}, invalid(op, "price must not be negative")
	}

	ctx, end := s.begin(ctx, op,
		attribute.String("order.id", in.OrderID),
		attribute.String("flower.id", in.FlowerID),
		attribute.Int("order_item.quantity", in.Quantity),
	)
	defer end(&err)
	log := logging.FromContext(ctx).With(
		zap.String("op", op),
		zap.String("order_id", in.OrderID),
		zap.String("flower_id", in.FlowerID),
		zap.Int("quantity", in.Quantity),
	)

	var item OrderItem
	var level inventory.Level
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		// share lock: the order cannot be deleted or paid underneath us
		if _, err := tx.OrderByID(ctx, in.OrderID, LockShare); err != nil {
			return err
		}
		res, err := s.ledger().ConditionalDecrement(ctx, tx, in.FlowerID, in.Quantity)
		if err != nil {
			return err
		}
		if !res.Applied {
			return insufficient(op, []inventory.Shortage{*res.Shortage})
		}
		level = inventory.Level{FlowerID: in.FlowerID, Remaining: res.Remaining, At: res.At}

		item = OrderItem{
			ID:       uuid.NewString(),
			OrderID:  in.OrderID,
			FlowerID: in.FlowerID,
			Quantity: in.Quantity,
			Price:    in.Price,
		}
		return tx.InsertItem(ctx, &item)
	})
	err = classify(op, err)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindInsufficientStock {
			s.publish(ctx, events.EventStockRejected, in.OrderID, events.StockRejectedPayload{
				OrderID: in.OrderID, Reason: "OUT_OF_STOCK", Operation: op, Details: e.Shortages,
			})
		}
		log.Info("order_item_rejected", zap.String("kind", KindOf(err).String()), zap.Error(err))
		return OrderItem{}, err
	}

	log.Info("order_item_created", zap.String("order_item_id", item.ID), zap.Int("stock_remaining", level.Remaining))
	s.publish(ctx, events.EventOrderItemCreated, in.OrderID, events.OrderItemCreatedPayload{
		OrderID:     in.OrderID,
		OrderItemID: item.ID,
		FlowerID:    item.FlowerID,
		Quantity:    item.Quantity,
		Price:       item.Price,
		StockLevels: []inventory.Level{level},
	})
	return item, nil
}

func (s *Service) GetOrderItem(ctx context.Context, id string) (_ OrderItem, err error) {
	const op = "get_order_item"
	if e := validID(op, "id", id); e != nil {
		return OrderItem{}, e
	}
	ctx, end := s.begin(ctx, op, attribute.String("order_item.id", id))
	defer end(&err)

	var it OrderItem
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		it, err = tx.ItemByID(ctx, id)
		return err
	})
	if err = classify(op, err); err != nil {
		return OrderItem{}, err
	}
	return it, nil
}

func (s *Service) ListOrderItems(ctx context.Context, orderID string) (_ []OrderItem, err error) {
	const op = "list_order_items"
	if e := validID(op, "order_id", orderID); e != nil {
		return nil, e
	}
	ctx, end := s.begin(ctx, op, attribute.String("order.id", orderID))
	defer end(&err)

	var items []OrderItem
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.OrderByID(ctx, orderID, LockNone); err != nil {
			return err
		}
		var err error
		items, err = tx.ItemsByOrder(ctx, orderID)
		return err
	})
	if err = classify(op, err); err != nil {
		return nil, err
	}
	if items == nil {
		items = []OrderItem{}
	}
	return items, nil
}

// UpdateOrderItem edits an item's references. Stock is not re-accounted.
func (s *Service) UpdateOrderItem(ctx context.Context, id string, p OrderItemPatch) (_ OrderItem, err error) {
	const op = "update_order_item"
	if e := validID(op, "id", id); e != nil {
		return OrderItem{}, e
	}
	if p.Quantity.Set && p.Quantity.Value <= 0 {
		return OrderItem{}, invalid(op, "quantity must be greater than zero")
	}
	if p.FlowerID.Set {
		if e := validID(op, "flower_id", p.FlowerID.Value); e != nil {
			return OrderItem{}, e
		}
	}
	if p.OrderID.Set {
		if e := validID(op, "order_id", p.OrderID.Value); e != nil {
			return OrderItem{}, e
		}
	}
	ctx, end := s.begin(ctx, op, attribute.String("order_item.id", id))
	defer end(&err)

	var it OrderItem
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if it, err = tx.ItemByID(ctx, id); err != nil {
			return err
		}
		if p.empty() {
			return nil
		}
		if p.OrderID.Set {
			if _, err := tx.OrderByID(ctx, p.OrderID.Value, LockShare); err != nil {
				return err
			}
			it.OrderID = p.OrderID.Value
		}
		if p.FlowerID.Set {
			if _, err := tx.FlowerByID(ctx, p.FlowerID.Value); err != nil {
				return err
			}
			it.FlowerID = p.FlowerID.Value
		}
		if p.Quantity.Set {
			it.Quantity = p.Quantity.Value
		}
		it.UpdatedAt = s.now()
		return tx.UpdateItem(ctx, it)
	})
	if err = classify(op, err); err != nil {
		return OrderItem{}, err
	}
	return it, nil
}

// DeleteOrderItem removes the line; its quantity is not returned to stock.
func (s *Service) DeleteOrderItem(ctx context.Context, id string) (_ OrderItem, err error) {
	const op = "delete_order_item"
	if e := validID(op, "id", id); e != nil {
		return OrderItem{}, e
	}
	ctx, end := s.begin(ctx, op, attribute.String("order_item.id", id))
	defer end(&err)

	var it OrderItem
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if it, err = tx.ItemByID(ctx, id); err != nil {
			return err
		}
		return tx.DeleteItem(ctx, id)
	})
	if err = classify(op, err); err != nil {
		return OrderItem{}, err
	}
	return it, nil
}

// ---- orders ----

func (s *Service) CreateOrder(ctx context.Context, in NewOrder) (_ Order, err error) {
	const op = "create_order"
	for field, v := range map[string]string{
		"name":              in.Name,
		"phone_number":      in.PhoneNumber,
		"address":           in.Address,
		"telegram_username": in.TelegramUsername,
	} {
		if strings.TrimSpace(v) == "" {
			return Order{}, invalid(op, "%s is required", field)
		}
	}
	ctx, end := s.begin(ctx, op)
	defer end(&err)

	o := Order{
		ID:               uuid.NewString(),
		Name:             in.Name,
		PhoneNumber:      in.PhoneNumber,
		Address:          in.Address,
		TelegramUsername: in.TelegramUsername,
		Status:           StatusPending,
	}
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, &o)
	})
	if err = classify(op, err); err != nil {
		return Order{}, err
	}
	o.Items = []OrderItem{}
	logging.FromContext(ctx).Info("order_created", zap.String("order_id", o.ID))
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (_ Order, err error) {
	const op = "get_order"
	if e := validID(op, "id", id); e != nil {
		return Order{}, e
	}
	ctx, end := s.begin(ctx, op, attribute.String("order.id", id))
	defer end(&err)

	var o Order
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = tx.OrderByID(ctx, id, LockNone); err != nil {
			return err
		}
		o.Items, err = tx.ItemsByOrder(ctx, id)
		return err
	})
	if err = classify(op, err); err != nil {
		return Order{}, err
	}
	if o.Items == nil {
		o.Items = []OrderItem{}
	}
	return o, nil
}

// ListOrders returns every order with its items, newest first.
func (s *Service) ListOrders(ctx context.Context) (_ []Order, err error) {
	const op = "list_orders"
	ctx, end := s.begin(ctx, op)
	defer end(&err)

	var out []Order
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		list, err := tx.ListOrders(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(list))
		for _, o := range list {
			ids = append(ids, o.ID)
		}
		byOrder, err := tx.ItemsByOrders(ctx, ids)
		if err != nil {
			return err
		}
		for i := range list {
			list[i].Items = byOrder[list[i].ID]
			if list[i].Items == nil {
				list[i].Items = []OrderItem{}
			}
		}
		out = list
		return nil
	})
	if err = classify(op, err); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Order{}
	}
	return out, nil
}

// DeleteOrder removes the order and its items without restocking.
func (s *Service) DeleteOrder(ctx context.Context, id string) (_ Order, err error) {
	const op = "delete_order"
	if e := validID(op, "id", id); e != nil {
		return Order{}, e
	}
	ctx, end := s.begin(ctx, op, attribute.String("order.id", id))
	defer end(&err)

	var o Order
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = tx.OrderByID(ctx, id, LockUpdate); err != nil {
			return err
		}
		if o.Items, err = tx.ItemsByOrder(ctx, id); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, id)
	})
	if err = classify(op, err); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *Service) FlowerStock(ctx context.Context, id string) (_ Flower, err error) {
	const op = "flower_stock"
	if e := validID(op, "id", id); e != nil {
		return Flower{}, e
	}
	ctx, end := s.begin(ctx, op, attribute.String("flower.id", id))
	defer end(&err)

	var f Flower
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		f, err = tx.FlowerByID(ctx, id)
		return err
	})
	if err = classify(op, err); err != nil {
		return Flower{}, err
	}
	return f, nil
}

func (s *Service) publish(ctx context.Context, eventType, orderID string, payload any) {
	if s.Publisher == nil {
		return
	}
	log := logging.FromContext(ctx)
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
	}
	env, err := events.New(eventType, s.Producer, orderID, traceID, payload)
	if err != nil {
		log.Error("event_encode_failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	// the ledger already committed; a lost event only delays projections
	if err := s.Publisher.Publish(ctx, events.TopicFor(eventType), events.PartitionKey(orderID), env); err != nil {
		log.Warn("event_publish_failed", zap.String("event", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}
