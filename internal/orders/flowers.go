package orders

import (
	"context"
	"github.com/ariefcatur/go-flower-orders/internal/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"strings"
)

// ---- flower catalogue ----

func (s *Service) CreateFlower(ctx context.Context, in NewFlower) (_ Flower, err error) {
	const op = "create_flower"
	switch {
	case strings.TrimSpace(in.Name) == "":
		return Flower{}, invalid(op, "name is required")
	case in.Price < 0:
		return Flower{}, invalid(op, "price must not be negative")
	case in.Stock < 0:
		return Flower{}, invalid(op, "stock must not be negative")
	}
	ctx, end := s.begin(ctx, op)
	defer end(&err)

	f := Flower{ID: uuid.NewString(), Name: in.Name, Price: in.Price, Stock: in.Stock}
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertFlower(ctx, &f)
	})
	if err = classify(op, err); err != nil {
		return Flower{}, err
	}
	logging.FromContext(ctx).Info("flower_created", zap.String("flower_id", f.ID), zap.Int("stock", f.Stock))
	return f, nil
}

func (s *Service) ListFlowers(ctx context.Context) (_ []Flower, err error) {
	const op = "list_flowers"
	ctx, end := s.begin(ctx, op)
	defer end(&err)

	var out []Flower
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListFlowers(ctx)
		return err
	})
	if err = classify(op, err); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Flower{}
	}
	return out, nil
}

// UpdateFlower edits catalogue fields. Setting stock replaces the level; it
// is the only way stock goes up.
func (s *Service) UpdateFlower(ctx context.Context, id string, p FlowerPatch) (_ Flower, err error) {
	const op = "update_flower"
	if e := validID(op, "id", id); e != nil {
		return Flower{}, e
	}
	switch {
	case p.empty():
		return Flower{}, invalid(op, "nothing to update")
	case p.Name.Set && strings.TrimSpace(p.Name.Value) == "":
		return Flower{}, invalid(op, "name must not be empty")
	case p.Price.Set && p.Price.Value < 0:
		return Flower{}, invalid(op, "price must not be negative")
	case p.Stock.Set && p.Stock.Value < 0:
		return Flower{}, invalid(op, "stock must not be negative")
	}
	ctx, end := s.begin(ctx, op, attribute.String("flower.id", id))
	defer end(&err)

	var f Flower
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		f, err = tx.UpdateFlower(ctx, id, p)
		return err
	})
	if err = classify(op, err); err != nil {
		return Flower{}, err
	}
	if p.Stock.Set {
		logging.FromContext(ctx).Info("flower_stock_set", zap.String("flower_id", id), zap.Int("stock", f.Stock))
	}
	return f, nil
}
