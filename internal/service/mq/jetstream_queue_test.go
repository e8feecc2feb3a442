package mq

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要开启 JetStream 的本地 NATS; 不可用时跳过
func jetStreamForTest(t *testing.T, ackWait time.Duration) *JetStreamQueue {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("nats not available at %s: %v", url, err)
	}
	t.Cleanup(nc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	name := fmt.Sprintf("TEST_DARKPOOL_%d", time.Now().UnixNano())
	q, err := NewJetStreamQueue(ctx, nc, name, "test.darkpool."+name, "applicator", ackWait)
	if err != nil {
		t.Skipf("jetstream not available: %v", err)
	}
	t.Cleanup(func() {
		if js, err := jetstream.New(nc); err == nil {
			_ = js.DeleteStream(context.Background(), name)
		}
	})
	q.maxWait = 200 * time.Millisecond
	return q
}

func TestJetStreamQueueSendPollDelete(t *testing.T) {
	q := jetStreamForTest(t, 5*time.Second)
	ctx := context.Background()

	id, err := q.Send(ctx, &Message{Key: "rid:0x01", Payload: []byte(`{"n":1}`), Metadata: map[string]string{"chain": "base"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ds, err := q.Poll(ctx, 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, `{"n":1}`, string(ds[0].Payload))
	assert.Equal(t, "rid:0x01", ds[0].Key)
	assert.Equal(t, "base", ds[0].Metadata["chain"])
	assert.Equal(t, id, ds[0].Receipt)
	assert.Equal(t, 1, ds[0].ReceiveCount)

	require.NoError(t, q.Delete(ctx, ds[0].Receipt))

	none, err := q.Poll(ctx, 10, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJetStreamQueueRedeliversAfterAckWait(t *testing.T) {
	q := jetStreamForTest(t, 300*time.Millisecond)
	ctx := context.Background()

	_, err := q.Send(ctx, &Message{Key: "k", Payload: []byte(`{"n":2}`)})
	require.NoError(t, err)

	first, err := q.Poll(ctx, 10, 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)

	time.Sleep(500 * time.Millisecond)
	again, err := q.Poll(ctx, 10, 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].Receipt, again[0].Receipt)
	assert.Equal(t, "k", again[0].Key)
	assert.Equal(t, 2, again[0].ReceiveCount)

	require.NoError(t, q.Delete(ctx, again[0].Receipt))
}
