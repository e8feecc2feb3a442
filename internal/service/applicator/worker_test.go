package applicator

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/internal/model"
	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/pkg/retry"
	"darkpool-indexer/pkg/stream"
)

func newTestWorker(f *fixture, maxAttempts int) *Worker {
	return NewWorker(f.app, f.queue, f.st, WorkerOptions{
		Concurrency: 2,
		PollBatch:   1,
		Visibility:  time.Minute,
		MaxAttempts: maxAttempts,
		Retry:       retry.Config{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
	}, zap.NewNop())
}

func send(t *testing.T, q mq.Queue, env *event.Envelope) {
	t.Helper()
	body, err := env.Marshal()
	require.NoError(t, err)
	_, err = q.Send(context.Background(), &mq.Message{Payload: body})
	require.NoError(t, err)
}

// drainQueue polls one message at a time until the queue is empty. Scheduled
// re-queues are flushed after every poll.
func drainQueue(t *testing.T, w *Worker, q *mq.MemoryQueue) int {
	t.Helper()
	pool := pond.NewPool(2)
	defer pool.StopAndWait()

	polls := 0
	for q.Len() > 0 {
		require.Less(t, polls, 50, "queue did not drain")
		_, err := w.pollOnce(context.Background(), pool)
		require.NoError(t, err)
		w.pending.Wait()
		polls++
	}
	return polls
}

func TestWorkerDeadLettersUnknownNullifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := newTestWorker(f, 3)

	send(t, f.queue, spentEnv(t, stream.MustParseScalar("0xdead"), event.TransitionSpend, nil, 5))
	polls := drainQueue(t, w, f.queue)
	assert.Equal(t, 3, polls)

	dls, err := f.st.PendingDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, string(event.TypeNullifierSpent), dls[0].MessageType)
	assert.Equal(t, 3, dls[0].Attempts)
	assert.Equal(t, "arbitrum", dls[0].Chain)
	assert.Contains(t, dls[0].Reason, ErrPredecessorMissing.Error())
}

func TestWorkerAppliesReorderedNullifierOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t)
	w := newTestWorker(f, 5)

	r0, k0 := stream.Derive(testSeed, 0)
	ct := sealed(t, k0, event.Share{Mint: usdc, Amount: big.NewInt(100)})

	// 花费事件先于创建事件到达
	send(t, f.queue, spentEnv(t, stream.Nullifier(r0, ct), event.TransitionSpend, nil, 20))
	pool := pond.NewPool(1)
	_, err := w.pollOnce(ctx, pool)
	pool.StopAndWait()
	require.NoError(t, err)
	w.pending.Wait()

	send(t, f.queue, registeredEnv(t, model.KindBalance, r0, ct, 10))
	drainQueue(t, w, f.queue)

	b, err := f.st.Balance(ctx, r0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSpent, b.Status)

	dls, err := f.st.PendingDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dls)
}

func TestWorkerDeadLettersMalformedMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := newTestWorker(f, 3)

	_, err := f.queue.Send(ctx, &mq.Message{Payload: []byte(`{"type":"bogus","payload":{}}`)})
	require.NoError(t, err)
	send(t, f.queue, &event.Envelope{Type: event.TypeRecoveryIDRegistered, Chain: "base", Payload: []byte(`{"kind":"vault"}`)})
	drainQueue(t, w, f.queue)

	dls, err := f.st.PendingDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dls, 2)
	assert.Equal(t, "unknown", dls[0].MessageType)
	assert.Equal(t, string(event.TypeRecoveryIDRegistered), dls[1].MessageType)
	assert.Equal(t, "base", dls[1].Chain)
}

func TestWorkerDuplicateDeliveriesConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t)
	w := newTestWorker(f, 5)

	r0, k0 := stream.Derive(testSeed, 0)
	ct := sealed(t, k0, event.Share{Mint: usdc, Amount: big.NewInt(3)})
	reg := registeredEnv(t, model.KindBalance, r0, ct, 10)
	spend := spentEnv(t, stream.Nullifier(r0, ct), event.TransitionSpend, nil, 11)
	for i := 0; i < 3; i++ {
		send(t, f.queue, reg)
		send(t, f.queue, spend)
	}
	drainQueue(t, w, f.queue)

	balances, err := f.st.Balances(ctx, f.account)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, model.StatusSpent, balances[0].Status)
	n, err := f.st.CountExpected(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, int64(testLookahead), n)
}

// flakyQueue fails Delete so the message stays for redelivery.
type flakyQueue struct {
	*mq.MemoryQueue
	mu      sync.Mutex
	deletes int
}

func (q *flakyQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	q.deletes++
	q.mu.Unlock()
	return errors.New("broker unavailable")
}

func TestWorkerLeavesMessageWhenDeleteFails(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	q := &flakyQueue{MemoryQueue: mq.NewMemoryQueue()}
	w := NewWorker(f.app, q, f.st, WorkerOptions{Concurrency: 1, Visibility: time.Minute}, zap.NewNop())

	r0, k0 := stream.Derive(testSeed, 0)
	send(t, q, registeredEnv(t, model.KindBalance, r0, sealed(t, k0, event.Share{Amount: big.NewInt(1)}), 1))

	pool := pond.NewPool(1)
	defer pool.StopAndWait()
	n, err := w.pollOnce(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.deletes)
	assert.Equal(t, 1, q.Len())
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	w := newTestWorker(f, 3)

	r0, k0 := stream.Derive(testSeed, 0)
	send(t, f.queue, registeredEnv(t, model.KindBalance, r0, sealed(t, k0, event.Share{Amount: big.NewInt(2)}), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return f.queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerKeepsPollingWhileDeferralBacksOff(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	w := NewWorker(f.app, f.queue, f.st, WorkerOptions{
		Concurrency: 1,
		PollBatch:   1,
		Visibility:  time.Minute,
		MaxAttempts: 5,
		Retry:       retry.Config{InitialDelay: 20 * time.Second, MaxDelay: 20 * time.Second, Multiplier: 2},
	}, zap.NewNop())

	r0, k0 := stream.Derive(testSeed, 0)
	ct := sealed(t, k0, event.Share{Mint: usdc, Amount: big.NewInt(9)})
	send(t, f.queue, spentEnv(t, stream.MustParseScalar("0xbeef"), event.TransitionSpend, nil, 30))
	send(t, f.queue, registeredEnv(t, model.KindBalance, r0, ct, 10))

	ctx, cancel := context.WithCancel(context.Background())
	pool := pond.NewPool(1)
	defer pool.StopAndWait()

	start := time.Now()
	n, err := w.pollOnce(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = w.pollOnce(ctx, pool)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Less(t, time.Since(start), 5*time.Second)

	// 第二条消息在退避期间已经处理
	b, err := f.st.Balance(context.Background(), r0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMaterialized, b.Status)

	// 退出时放弃等待，原消息留在队列里等待重投
	cancel()
	w.pending.Wait()
	assert.Equal(t, 1, f.queue.Len())
}

func TestReplayRetainedIsBoundedWhileWorkerRetains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 这些事件永远匹配不到，worker 会把重放的消息再次保留
	const retained = 150
	for i := 1; i <= retained; i++ {
		rid, err := stream.ScalarFromBig(big.NewInt(int64(1000 + i)))
		require.NoError(t, err)
		outcome, err := f.app.Apply(ctx, registeredEnv(t, model.KindBalance, rid, []byte{0x01}, uint64(i)))
		require.NoError(t, err)
		require.Equal(t, Unmatched, outcome)
	}

	w := NewWorker(f.app, f.queue, f.st, WorkerOptions{
		Concurrency:  4,
		PollBatch:    8,
		Visibility:   time.Minute,
		PollInterval: time.Millisecond,
	}, zap.NewNop())
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	replayed, err := f.app.ReplayRetained(ctx)
	require.NoError(t, err)
	assert.Equal(t, retained, replayed)

	require.Eventually(t, func() bool { return f.queue.Len() == 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	rows, err := f.st.RetainedMessages(ctx, 0, math.MaxInt64, 2*retained)
	require.NoError(t, err)
	assert.Len(t, rows, retained)
}
