package orders

import (
	"context"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
)

type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockUpdate
)

// Store runs fn inside one atomic unit. If fn returns an error, or the unit
// cannot commit, nothing fn did is persisted.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of record operations available inside a transaction. Stock
// is only reachable through the embedded inventory.Store primitive.
type Tx interface {
	inventory.Store

	InsertFlower(ctx context.Context, f *Flower) error
	FlowerByID(ctx context.Context, id string) (Flower, error)
	ListFlowers(ctx context.Context) ([]Flower, error)
	// UpdateFlower writes only the set fields of p in one statement, so it
	// never overwrites a concurrent decrement it did not ask to replace.
	UpdateFlower(ctx context.Context, id string, p FlowerPatch) (Flower, error)

	InsertOrder(ctx context.Context, o *Order) error
	OrderByID(ctx context.Context, id string, lock LockMode) (Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, id string) error

	InsertItem(ctx context.Context, it *OrderItem) error
	ItemByID(ctx context.Context, id string) (OrderItem, error)
	ItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error)
	ItemsByOrders(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error)
	UpdateItem(ctx context.Context, it OrderItem) error
	DeleteItem(ctx context.Context, id string) error
}
