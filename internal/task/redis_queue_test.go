package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return NewRedisQueueWithClient(client, "", 50*time.Millisecond), server
}

func TestRedisQueuePublishPushesToList(t *testing.T) {
	queue, server := newMiniredisQueue(t)
	defer queue.Close()

	require.NoError(t, queue.Publish(context.Background(), "task-1"))
	require.NoError(t, queue.Publish(context.Background(), "task-2"))

	items, err := server.List(DefaultRedisQueue)
	require.NoError(t, err)
	require.Equal(t, []string{"task-2", "task-1"}, items)
}

func TestRedisQueueConsumeDeliversInOrder(t *testing.T) {
	queue, _ := newMiniredisQueue(t)
	defer queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, queue.Publish(ctx, id))
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 1, func(_ context.Context, id string) error {
			mu.Lock()
			seen = append(seen, id)
			if len(seen) == 3 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	err := <-done
	require.True(t, errors.Is(err, context.Canceled), "unexpected consume error: %v", err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestRedisQueueRequeuesFailedHandler(t *testing.T) {
	queue, _ := newMiniredisQueue(t)
	defer queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, queue.Publish(ctx, "flaky"))

	var attempts int
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 1, func(_ context.Context, id string) error {
			attempts++
			if attempts == 1 {
				return errors.New("store unavailable")
			}
			cancel()
			return nil
		})
	}()
	<-done
	require.Equal(t, 2, attempts)
}

func TestRedisQueueKeepsConsumingAfterRedisErrors(t *testing.T) {
	queue, server := newMiniredisQueue(t)
	defer queue.Close()
	queue.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	server.SetError("ERR simulated outage")
	delivered := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 2, func(_ context.Context, id string) error {
			delivered <- id
			return nil
		})
	}()

	// 出错期间消费者不应退出。
	select {
	case err := <-done:
		t.Fatalf("consume stopped on redis error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	server.SetError("")
	require.NoError(t, queue.Publish(ctx, "after-outage"))

	select {
	case id := <-delivered:
		require.Equal(t, "after-outage", id)
	case err := <-done:
		t.Fatalf("consume stopped before delivery: %v", err)
	case <-ctx.Done():
		t.Fatal("task not delivered after redis recovered")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
