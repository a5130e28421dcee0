package inventory

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flower-orders/internal/metrics"
	"sort"
	"time"
)

var (
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
	ErrFlowerNotFound  = errors.New("inventory: flower not found")
)

// Store is the persistence primitive behind the ledger. DecrementIfAvailable
// must check "stock >= qty" and apply the decrement in one statement
// (UPDATE ... WHERE stock >= $qty), never as a read followed by a write.
// The returned level carries the row's write time, which must increase with
// every committed write to the same flower.
type Store interface {
	DecrementIfAvailable(ctx context.Context, flowerID string, qty int) (level Level, applied bool, err error)
	StockOf(ctx context.Context, flowerID string) (stock int, found bool, err error)
}

type Line struct {
	FlowerID string
	Qty      int
}

type Level struct {
	FlowerID  string    `json:"flower_id"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

type Shortage struct {
	FlowerID  string `json:"flower_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type Result struct {
	Applied   bool
	Remaining int
	At        time.Time
	Shortage  *Shortage
}

// Ledger owns the only mutation path for flower stock. It must be called with
// a Store bound to the caller's transaction.
type Ledger struct {
	Metrics *metrics.Collector
}

func NewLedger(m *metrics.Collector) *Ledger { return &Ledger{Metrics: m} }

func (l *Ledger) ConditionalDecrement(ctx context.Context, s Store, flowerID string, qty int) (Result, error) {
	if qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	lv, applied, err := s.DecrementIfAvailable(ctx, flowerID, qty)
	if err != nil {
		return Result{}, fmt.Errorf("decrement %s: %w", flowerID, err)
	}
	if applied {
		l.Metrics.Decrement("applied")
		return Result{Applied: true, Remaining: lv.Remaining, At: lv.At}, nil
	}

	// not applied: either the row is gone or the predicate failed
	stock, found, err := s.StockOf(ctx, flowerID)
	if err != nil {
		return Result{}, fmt.Errorf("read stock %s: %w", flowerID, err)
	}
	if !found {
		l.Metrics.Decrement("missing")
		return Result{}, fmt.Errorf("%w: %s", ErrFlowerNotFound, flowerID)
	}
	l.Metrics.Decrement("insufficient")
	return Result{
		Remaining: stock,
		Shortage:  &Shortage{FlowerID: flowerID, Required: qty, Available: stock},
	}, nil
}

// DecrementAll attempts every line and reports all shortages. Lines for the
// same flower are merged and flowers are visited in id order so concurrent
// bulk decrements lock rows in the same sequence. When shortages is non-empty
// some decrements may already be applied inside the transaction; the caller
// must roll it back.
func (l *Ledger) DecrementAll(ctx context.Context, s Store, lines []Line) (levels []Level, shortages []Shortage, err error) {
	merged := make(map[string]int, len(lines))
	for _, ln := range lines {
		if ln.Qty <= 0 {
			return nil, nil, fmt.Errorf("%w: flower %s", ErrInvalidQuantity, ln.FlowerID)
		}
		merged[ln.FlowerID] += ln.Qty
	}
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		res, err := l.ConditionalDecrement(ctx, s, id, merged[id])
		if err != nil {
			return nil, nil, err
		}
		if !res.Applied {
			shortages = append(shortages, *res.Shortage)
			continue
		}
		levels = append(levels, Level{FlowerID: id, Remaining: res.Remaining, At: res.At})
	}
	if len(shortages) > 0 {
		return nil, shortages, nil
	}
	return levels, nil, nil
}
