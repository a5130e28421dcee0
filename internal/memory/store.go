package memory

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/ariefcatur/go-flower-orders/internal/orders"
	"maps"
	"sort"
	"sync"
	"time"
)

// Store is an orders.Store kept in process memory. Each transaction works on
// a private copy of the tables and swaps it in on commit, so a failed
// transaction leaves no trace. Transactions are serialized by one mutex.
type Store struct {
	mu      sync.Mutex
	flowers map[string]orders.Flower
	orders  map[string]orders.Order
	items   map[string]orders.OrderItem

	// BeforeCommit, when set, runs after fn succeeds and before the swap; an
	// error aborts the commit.
	BeforeCommit func() error
}

func NewStore() *Store {
	return &Store{
		flowers: make(map[string]orders.Flower),
		orders:  make(map[string]orders.Order),
		items:   make(map[string]orders.OrderItem),
	}
}

// PutFlower seeds or replaces a flower row.
func (s *Store) PutFlower(f orders.Flower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	s.flowers[f.ID] = f
}

// Stock reads committed stock; ok is false for unknown flowers.
func (s *Store) Stock(id string) (stock int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flowers[id]
	return f.Stock, ok
}

// Counts reports committed row counts.
func (s *Store) Counts() (orderCount, itemCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.items)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &memTx{
		flowers: maps.Clone(s.flowers),
		orders:  maps.Clone(s.orders),
		items:   maps.Clone(s.items),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
	}
	s.flowers, s.orders, s.items = tx.flowers, tx.orders, tx.items
	return nil
}

type memTx struct {
	flowers map[string]orders.Flower
	orders  map[string]orders.Order
	items   map[string]orders.OrderItem
}

// DecrementIfAvailable stamps UpdatedAt inside the store lock, so write times
// follow commit order.
func (t *memTx) DecrementIfAvailable(_ context.Context, flowerID string, qty int) (inventory.Level, bool, error) {
	f, ok := t.flowers[flowerID]
	if !ok || f.Stock < qty {
		return inventory.Level{}, false, nil
	}
	f.Stock -= qty
	f.UpdatedAt = time.Now().UTC()
	t.flowers[flowerID] = f
	return inventory.Level{FlowerID: flowerID, Remaining: f.Stock, At: f.UpdatedAt}, true, nil
}

func (t *memTx) StockOf(_ context.Context, flowerID string) (int, bool, error) {
	f, ok := t.flowers[flowerID]
	return f.Stock, ok, nil
}

func (t *memTx) InsertFlower(_ context.Context, f *orders.Flower) error {
	if _, dup := t.flowers[f.ID]; dup {
		return fmt.Errorf("duplicate flower id %s", f.ID)
	}
	f.UpdatedAt = time.Now().UTC()
	t.flowers[f.ID] = *f
	return nil
}

func (t *memTx) ListFlowers(context.Context) ([]orders.Flower, error) {
	out := make([]orders.Flower, 0, len(t.flowers))
	for _, f := range t.flowers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) UpdateFlower(_ context.Context, id string, p orders.FlowerPatch) (orders.Flower, error) {
	f, ok := t.flowers[id]
	if !ok {
		return orders.Flower{}, fmt.Errorf("%w: %s", orders.ErrFlowerNotFound, id)
	}
	if p.Name.Set {
		f.Name = p.Name.Value
	}
	if p.Price.Set {
		f.Price = p.Price.Value
	}
	if p.Stock.Set {
		f.Stock = p.Stock.Value
	}
	f.UpdatedAt = time.Now().UTC()
	t.flowers[id] = f
	return f, nil
}

func (t *memTx) FlowerByID(_ context.Context, id string) (orders.Flower, error) {
	f, ok := t.flowers[id]
	if !ok {
		return orders.Flower{}, fmt.Errorf("%w: %s", orders.ErrFlowerNotFound, id)
	}
	return f, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if _, dup := t.orders[o.ID]; dup {
		return fmt.Errorf("duplicate order id %s", o.ID)
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	row := *o
	row.Items = nil
	t.orders[o.ID] = row
	return nil
}

func (t *memTx) OrderByID(_ context.Context, id string, _ orders.LockMode) (orders.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return o, nil
}

func (t *memTx) ListOrders(context.Context) ([]orders.Order, error) {
	out := make([]orders.Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.orders[o.ID]; !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, o.ID)
	}
	o.Items = nil
	t.orders[o.ID] = o
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := t.orders[id]; !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	delete(t.orders, id)
	for itemID, it := range t.items {
		if it.OrderID == id {
			delete(t.items, itemID)
		}
	}
	return nil
}

func (t *memTx) InsertItem(_ context.Context, it *orders.OrderItem) error {
	if _, ok := t.orders[it.OrderID]; !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, it.OrderID)
	}
	if _, ok := t.flowers[it.FlowerID]; !ok {
		return fmt.Errorf("%w: %s", orders.ErrFlowerNotFound, it.FlowerID)
	}
	now := time.Now().UTC()
	it.CreatedAt, it.UpdatedAt = now, now
	t.items[it.ID] = *it
	return nil
}

func (t *memTx) ItemByID(_ context.Context, id string) (orders.OrderItem, error) {
	it, ok := t.items[id]
	if !ok {
		return orders.OrderItem{}, fmt.Errorf("%w: %s", orders.ErrItemNotFound, id)
	}
	return it, nil
}

func (t *memTx) ItemsByOrder(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	byOrder, err := t.ItemsByOrders(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return byOrder[orderID], nil
}

func (t *memTx) ItemsByOrders(_ context.Context, orderIDs []string) (map[string][]orders.OrderItem, error) {
	want := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		want[id] = true
	}
	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for _, it := range t.items {
		if want[it.OrderID] {
			out[it.OrderID] = append(out[it.OrderID], it)
		}
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool {
			if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].CreatedAt.Before(list[j].CreatedAt)
			}
			return list[i].ID < list[j].ID
		})
	}
	return out, nil
}

func (t *memTx) UpdateItem(_ context.Context, it orders.OrderItem) error {
	cur, ok := t.items[it.ID]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrItemNotFound, it.ID)
	}
	it.Price = cur.Price
	it.CreatedAt = cur.CreatedAt
	t.items[it.ID] = it
	return nil
}

func (t *memTx) DeleteItem(_ context.Context, id string) error {
	if _, ok := t.items[id]; !ok {
		return fmt.Errorf("%w: %s", orders.ErrItemNotFound, id)
	}
	delete(t.items, id)
	return nil
}
