package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestClassify(t *testing.T) {
	typed := invalid("op", "bad")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed error passes through", typed, KindValidation},
		{"wrapped typed error", fmt.Errorf("ctx: %w", typed), KindValidation},
		{"missing order", fmt.Errorf("%w: x", ErrOrderNotFound), KindNotFound},
		{"missing item", fmt.Errorf("%w: x", ErrItemNotFound), KindNotFound},
		{"missing flower", fmt.Errorf("decrement: %w", inventory.ErrFlowerNotFound), KindNotFound},
		{"invalid quantity", inventory.ErrInvalidQuantity, KindValidation},
		{"deadline", fmt.Errorf("begin tx: %w", context.DeadlineExceeded), KindTransient},
		{"driver error", errors.New("conn closed"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(classify("op", tt.err)))
		})
	}
	assert.NoError(t, classify("op", nil))
}

func TestErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", insufficient("create_order_item", []inventory.Shortage{
		{FlowerID: "f-1", Required: 6, Available: 4},
	}))

	assert.ErrorIs(t, err, &Error{Kind: KindInsufficientStock})
	assert.NotErrorIs(t, err, &Error{Kind: KindNotFound})
	assert.Equal(t, "wrap: create_order_item: insufficient_stock: insufficient stock for flower f-1 (required=6 available=4)", err.Error())
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}
