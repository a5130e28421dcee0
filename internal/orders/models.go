package orders

import (
	"bytes"
	"encoding/json"
	"time"
)

type Flower struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Order struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	PhoneNumber      string      `json:"phone_number"`
	Address          string      `json:"address"`
	TelegramUsername string      `json:"telegram_username"`
	Status           Status      `json:"status"`
	Items            []OrderItem `json:"items"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// OrderItem.Price is the price snapshot taken at creation and never changes.
type OrderItem struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	FlowerID  string    `json:"flower_id"`
	Quantity  int       `json:"quantity"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NewFlower struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int    `json:"stock"`
}

// FlowerPatch with Stock set replaces the stock level (restock or count
// correction).
type FlowerPatch struct {
	Name  Optional[string] `json:"name"`
	Price Optional[int64]  `json:"price"`
	Stock Optional[int]    `json:"stock"`
}

func (p FlowerPatch) empty() bool {
	return !p.Name.Set && !p.Price.Set && !p.Stock.Set
}

type NewOrder struct {
	Name             string `json:"name"`
	PhoneNumber      string `json:"phone_number"`
	Address          string `json:"address"`
	TelegramUsername string `json:"telegram_username"`
}

type NewOrderItem struct {
	OrderID  string `json:"order_id"`
	FlowerID string `json:"flower_id"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// Optional is a field that is either absent from a patch or explicitly set.
type Optional[T any] struct {
	Set   bool
	Value T
}

func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: v} }

// UnmarshalJSON only runs for keys present in the document, so an absent key
// leaves Set false. An explicit null is rejected.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return &Error{Kind: KindValidation, Op: "decode", Msg: "null is not a valid value"}
	}
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Set = true
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

type OrderPatch struct {
	Name             Optional[string] `json:"name"`
	PhoneNumber      Optional[string] `json:"phone_number"`
	Address          Optional[string] `json:"address"`
	TelegramUsername Optional[string] `json:"telegram_username"`
	Status           Optional[Status] `json:"status"`
}

// OrderItemPatch edits references only; stock is not re-accounted and the
// price snapshot is not editable.
type OrderItemPatch struct {
	Quantity Optional[int]    `json:"quantity"`
	FlowerID Optional[string] `json:"flower_id"`
	OrderID  Optional[string] `json:"order_id"`
}

func (p OrderItemPatch) empty() bool {
	return !p.Quantity.Set && !p.FlowerID.Set && !p.OrderID.Set
}
