package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
)

// ErrInFlight means another request holding the same key has not finished.
var ErrInFlight = errors.New("redisx: idempotency key in flight")

// Idempotency guards order item creation. A key is reserved with SETNX as
// "pending", then either completed with the item id or released on failure.
type Idempotency struct {
	RDB *redis.Client
}

// Reserve claims key for orderID. When the key already completed, the stored
// item id is returned with reserved=false. The same key under another order is
// a separate reservation.
func (i *Idempotency) Reserve(ctx context.Context, orderID, key string) (itemID string, reserved bool, err error) {
	k := fmt.Sprintf(KeyIdemItemCreate, orderID, key)
	ok, err := i.RDB.SetNX(ctx, k, idemPending, TTLIdempotency).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// released between SETNX and GET; the other request failed
		return "", false, ErrInFlight
	case err != nil:
		return "", false, err
	case v == idemPending:
		return "", false, ErrInFlight
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, orderID, key, itemID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemItemCreate, orderID, key), itemID, TTLIdempotency).Err()
}

func (i *Idempotency) Release(ctx context.Context, orderID, key string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdemItemCreate, orderID, key)).Err()
}
