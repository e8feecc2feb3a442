package mq

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要本地 Redis; 不可用时跳过
func redisForTest(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueueRedelivery(t *testing.T) {
	client := redisForTest(t)
	ctx := context.Background()
	stream := fmt.Sprintf("test:darkpool:%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	q, err := NewRedisQueue(ctx, client, stream, "applicator", "c1")
	require.NoError(t, err)
	q.block = 50 * time.Millisecond

	_, err = q.Send(ctx, &Message{Key: "k", Payload: []byte(`{"n":1}`)})
	require.NoError(t, err)

	first, err := q.Poll(ctx, 10, 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, `{"n":1}`, string(first[0].Payload))
	assert.Equal(t, "k", first[0].Key)

	none, err := q.Poll(ctx, 10, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, none)

	time.Sleep(300 * time.Millisecond)
	again, err := q.Poll(ctx, 10, 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].Receipt, again[0].Receipt)

	require.NoError(t, q.Delete(ctx, again[0].Receipt))
	time.Sleep(300 * time.Millisecond)
	after, err := q.Poll(ctx, 10, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, after)
}
