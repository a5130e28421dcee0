package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/ariefcatur/go-flower-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store. Every Tx method runs on the transaction opened
// by InTx; stock is only changed by the conditional UPDATE in
// DecrementIfAvailable.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return postgres.InTx(ctx, r.DB, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct{ tx pgx.Tx }

// DecrementIfAvailable: under READ COMMITTED a concurrent writer on the same
// row makes this statement wait and then re-check "stock >= $2" against the
// committed value, so two racing decrements can never both pass on stale stock.
// clock_timestamp() is read after the row lock is taken, so updated_at grows in
// commit order per flower; NOW() would be the transaction start.
func (t *pgTx) DecrementIfAvailable(ctx context.Context, flowerID string, qty int) (inventory.Level, bool, error) {
	lv := inventory.Level{FlowerID: flowerID}
	err := t.tx.QueryRow(ctx, `
		UPDATE flowers SET stock = stock - $2, updated_at = clock_timestamp()
		WHERE id = $1 AND stock >= $2
		RETURNING stock, updated_at`, flowerID, qty).Scan(&lv.Remaining, &lv.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Level{}, false, nil
	}
	if err != nil {
		return inventory.Level{}, false, err
	}
	lv.At = lv.At.UTC()
	return lv, true, nil
}

func (t *pgTx) StockOf(ctx context.Context, flowerID string) (int, bool, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM flowers WHERE id=$1`, flowerID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

const flowerColumns = `id, name, price, stock, updated_at`

func scanFlower(row pgx.Row) (Flower, error) {
	var f Flower
	err := row.Scan(&f.ID, &f.Name, &f.Price, &f.Stock, &f.UpdatedAt)
	return f, err
}

func (t *pgTx) InsertFlower(ctx context.Context, f *Flower) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO flowers(id, name, price, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING updated_at`,
		f.ID, f.Name, f.Price, f.Stock,
	).Scan(&f.UpdatedAt)
}

func (t *pgTx) FlowerByID(ctx context.Context, id string) (Flower, error) {
	f, err := scanFlower(t.tx.QueryRow(ctx, `SELECT `+flowerColumns+` FROM flowers WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Flower{}, fmt.Errorf("%w: %s", ErrFlowerNotFound, id)
	}
	return f, err
}

func (t *pgTx) ListFlowers(ctx context.Context) ([]Flower, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+flowerColumns+` FROM flowers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Flower
	for rows.Next() {
		f, err := scanFlower(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// optional maps an unset field to NULL for COALESCE.
func optional[T any](o Optional[T]) *T {
	if !o.Set {
		return nil
	}
	return &o.Value
}

func (t *pgTx) UpdateFlower(ctx context.Context, id string, p FlowerPatch) (Flower, error) {
	f, err := scanFlower(t.tx.QueryRow(ctx, `
		UPDATE flowers SET
			name = COALESCE($2, name),
			price = COALESCE($3, price),
			stock = COALESCE($4, stock),
			updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING `+flowerColumns,
		id, optional(p.Name), optional(p.Price), optional(p.Stock)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Flower{}, fmt.Errorf("%w: %s", ErrFlowerNotFound, id)
	}
	return f, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO orders(id, name, phone_number, address, telegram_username, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		o.ID, o.Name, o.PhoneNumber, o.Address, o.TelegramUsername, string(o.Status),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

const orderColumns = `id, name, phone_number, address, telegram_username, status, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	if err := row.Scan(&o.ID, &o.Name, &o.PhoneNumber, &o.Address, &o.TelegramUsername, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func (t *pgTx) OrderByID(ctx context.Context, id string, lock LockMode) (Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	switch lock {
	case LockShare:
		q += ` FOR SHARE`
	case LockUpdate:
		q += ` FOR UPDATE`
	}
	o, err := scanOrder(t.tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return o, err
}

func (t *pgTx) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateOrder(ctx context.Context, o Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET name=$2, phone_number=$3, address=$4, telegram_username=$5, status=$6, updated_at=$7
		WHERE id=$1`,
		o.ID, o.Name, o.PhoneNumber, o.Address, o.TelegramUsername, string(o.Status), o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ID)
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return nil
}

func (t *pgTx) InsertItem(ctx context.Context, it *OrderItem) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_items(id, order_id, flower_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		it.ID, it.OrderID, it.FlowerID, it.Quantity, it.Price,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
}

const itemColumns = `id, order_id, flower_id, quantity, price, created_at, updated_at`

func scanItem(row pgx.Row) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.FlowerID, &it.Quantity, &it.Price, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (t *pgTx) ItemByID(ctx context.Context, id string) (OrderItem, error) {
	it, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return it, err
}

func (t *pgTx) ItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error) {
	byOrder, err := t.ItemsByOrders(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return byOrder[orderID], nil
}

func (t *pgTx) ItemsByOrders(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error) {
	out := make(map[string][]OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT `+itemColumns+` FROM order_items
		WHERE order_id = ANY($1) ORDER BY created_at, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateItem(ctx context.Context, it OrderItem) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE order_items SET order_id=$2, flower_id=$3, quantity=$4, updated_at=$5
		WHERE id=$1`, it.ID, it.OrderID, it.FlowerID, it.Quantity, it.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, it.ID)
	}
	return nil
}

func (t *pgTx) DeleteItem(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return nil
}
