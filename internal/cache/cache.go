// Package cache keeps short-lived coordination state in Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPollWindow is the minimum gap between two provider queries for one payment.
const DefaultPollWindow = 5 * time.Second

// PollThrottle admits at most one provider status query per payment per window,
// across every process sharing the Redis instance.
type PollThrottle struct {
	client *redis.Client
	window time.Duration
}

func NewPollThrottle(client *redis.Client, window time.Duration) *PollThrottle {
	if window <= 0 {
		window = DefaultPollWindow
	}
	return &PollThrottle{client: client, window: window}
}

// Allow claims the poll slot for the payment. A Redis failure is returned with ok=true
// so callers can fail open.
func (t *PollThrottle) Allow(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	ok, err := t.client.SetNX(ctx, pollKey(paymentID), 1, t.window).Result()
	if err != nil {
		return true, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func pollKey(paymentID uuid.UUID) string {
	return fmt.Sprintf("mpesa:poll:%s", paymentID)
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
