package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMutualExclusion(t *testing.T) {
	l := NewLocal()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "order:1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.locks)
}

func TestLocalDistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	u1, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer u1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	u2, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	u2()
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Empty(t, l.locks)
}

func TestRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedis(client, time.Second).Lock(ctx, "order:1")
	assert.ErrorContains(t, err, "redis lock order:1")
}

// Runs against a real Redis when REDIS_TEST_ADDR is set.
func TestRedisMutualExclusion(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	l := NewRedis(client, 5*time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "test-order")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, "test-order")
	assert.ErrorIs(t, err, ErrNotAcquired)

	unlock()
	unlock2, err := l.Lock(ctx, "test-order")
	require.NoError(t, err)
	unlock2()
}
