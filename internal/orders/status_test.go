package orders

import (
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPending, false},
		{StatusPaid, StatusPending, false},
		{StatusPaid, StatusCancelled, false},
		{StatusCancelled, StatusPaid, false},
		{StatusCancelled, StatusPending, false},
		{Status("shipped"), StatusPaid, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, Status("PAID").Valid())
}

func TestOrderPatchPresence(t *testing.T) {
	var p OrderPatch
	require.NoError(t, json.Unmarshal([]byte(`{"status":"paid","address":""}`), &p))

	assert.True(t, p.Status.Set)
	assert.Equal(t, StatusPaid, p.Status.Value)
	assert.True(t, p.Address.Set, "an explicit empty string is still a set field")
	assert.False(t, p.Name.Set)
	assert.NotNil(t, p.validate("update_order"), "empty address must be rejected")

	err := json.Unmarshal([]byte(`{"name":null}`), &p)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestOrderItemPatchPresence(t *testing.T) {
	var p OrderItemPatch
	require.NoError(t, json.Unmarshal([]byte(`{"quantity":4}`), &p))
	assert.Equal(t, Some(4), p.Quantity)
	assert.False(t, p.FlowerID.Set)
	assert.False(t, p.empty())

	var none OrderItemPatch
	require.NoError(t, json.Unmarshal([]byte(`{"price":99}`), &none))
	assert.True(t, none.empty(), "price is not patchable")
}
