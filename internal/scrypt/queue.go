// Package scrypt provides the parameter chooser and the single-slot
// queue that serializes scrypt calls: a new call waits for the
// currently running one to settle, success or failure, before starting.
// Serialization exists because scrypt is memory-hard and an
// unserialized pile of concurrent calls can pin a low-end device.
//
// The queue fails open on Redis errors — local behavior is the source
// of truth — so a Redis outage degrades to in-process-only
// serialization rather than blocking logins outright.
package scrypt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue serializes scrypt calls one at a time. The in-process mutex is
// always authoritative; the optional Redis client adds a best-effort
// distributed lock so multiple processes sharing one device profile
// still serialize.
type Queue struct {
	mu    sync.Mutex
	redis *redis.Client
	key   string
}

// NewQueue creates a Queue. redisClient may be nil, in which case the
// queue serializes only within this process.
func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redis: redisClient, key: "edge:scrypt:lock"}
}

// Run executes fn with the single slot held, blocking until any
// currently-running scrypt call has settled. fn should itself be the
// scrypt call (or a small wrapper around it); its result is returned
// unchanged.
func (q *Queue) Run(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	unlock := q.acquireDistributed(ctx)
	defer unlock()

	return fn()
}

// acquireDistributed best-effort acquires a short-lived Redis lock so
// concurrent processes on the same machine also serialize, waiting
// while another process holds it. On any Redis error, or once ctx is
// done, it fails open, returning a no-op unlock; the in-process mutex
// above already provides the correctness guarantee.
func (q *Queue) acquireDistributed(ctx context.Context) func() {
	if q.redis == nil {
		return func() {}
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	for {
		ok, err := q.redis.SetNX(ctx, q.key, token, 2*time.Minute).Result()
		if err != nil {
			return func() {}
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return func() {}
		case <-time.After(50 * time.Millisecond):
		}
	}

	return func() {
		q.redis.Del(ctx, q.key)
	}
}
