package events

import (
	"encoding/json"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/google/uuid"
	"time"
)

const (
	EventOrderItemCreated = "OrderItemCreated"
	EventOrderPaid        = "OrderPaid"
	EventOrderCancelled   = "OrderCancelled"
	EventStockRejected    = "StockRejected"
)

const Version = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// New wraps payload in a v1 envelope.
func New(eventType, producer, orderID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  Version,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

// ---- payloads ----

type OrderItemCreatedPayload struct {
	OrderID     string            `json:"order_id"`
	OrderItemID string            `json:"order_item_id"`
	FlowerID    string            `json:"flower_id"`
	Quantity    int               `json:"quantity"`
	Price       int64             `json:"price"`
	StockLevels []inventory.Level `json:"stock_levels"`
}

type OrderPaidPayload struct {
	OrderID     string            `json:"order_id"`
	StockLevels []inventory.Level `json:"stock_levels"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
}

type StockRejectedPayload struct {
	OrderID   string               `json:"order_id"`
	Reason    string               `json:"reason"` // OUT_OF_STOCK
	Operation string               `json:"operation"`
	Details   []inventory.Shortage `json:"details,omitempty"`
}

// StockLevels pulls stock levels out of any payload that carries them.
func StockLevels(env Envelope) ([]inventory.Level, error) {
	var p struct {
		StockLevels []inventory.Level `json:"stock_levels"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, err
	}
	return p.StockLevels, nil
}
