package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// ErrInProgress means another request holds the claim on the same key.
var ErrInProgress = errors.New("idempotent request in progress")

// Idempotency guards order creation by external id. A key is claimed as
// pending, then completed with the order id or abandoned on failure.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency {
	return &Idempotency{rdb: rdb}
}

// Claim returns ("", nil) when the caller now owns the key, the stored order
// id when the request already completed, or ErrInProgress.
func (i *Idempotency) Claim(ctx context.Context, externalID string) (string, error) {
	key := fmt.Sprintf(KeyIdemOrderCreate, externalID)
	ok, err := i.rdb.SetNX(ctx, key, pendingMarker, TTLPending).Result()
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", externalID, err)
	}
	if ok {
		return "", nil
	}
	v, err := i.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; let the caller retry
		return "", ErrInProgress
	}
	if err != nil {
		return "", err
	}
	if v == pendingMarker {
		return "", ErrInProgress
	}
	return v, nil
}

func (i *Idempotency) Complete(ctx context.Context, externalID, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), orderID, TTLIdempotency).Err()
}

func (i *Idempotency) Abandon(ctx context.Context, externalID string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Err()
}
