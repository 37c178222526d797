package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultHoldTTL matches the original checkout flow: a picked seat stays
// reserved for five minutes while the passenger enters details and pays.
const DefaultHoldTTL = 5 * time.Minute

// Holds keeps short-lived per-seat reservations in Redis so two passengers
// picking the same seat collide before either reaches the store. Advisory
// only; the tickets table's unique index settles the race for real.
type Holds struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewHolds(client *redis.Client, ttl time.Duration) *Holds {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	return &Holds{Client: client, TTL: ttl}
}

// HoldKey is the keyspace layout; the expiry listener in main parses it back.
func HoldKey(tripID string, seat int) string {
	return fmt.Sprintf("seat_hold:%s:%d", tripID, seat)
}

// HoldSeat takes the hold, or confirms it when the same owner already has it
// (the booking flow calls this once per step).
func (h *Holds) HoldSeat(ctx context.Context, tripID string, seat int, ownerID string) (bool, error) {
	key := HoldKey(tripID, seat)
	ok, err := h.Client.SetNX(ctx, key, ownerID, h.TTL).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	val, err := h.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Hold expired between SetNX and Get; try again once.
		return h.Client.SetNX(ctx, key, ownerID, h.TTL).Result()
	}
	if err != nil {
		return false, err
	}
	return val == ownerID, nil
}

// ReleaseSeat drops the hold if the caller owns it.
func (h *Holds) ReleaseSeat(ctx context.Context, tripID string, seat int, ownerID string) error {
	key := HoldKey(tripID, seat)
	val, err := h.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == ownerID {
		_, err := h.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// CheckSeatHeld reports whether anyone currently holds the seat.
func (h *Holds) CheckSeatHeld(ctx context.Context, tripID string, seat int) (bool, error) {
	_, err := h.Client.Get(ctx, HoldKey(tripID, seat)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
