package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/internal/model"
	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/internal/store/storetest"
	"darkpool-indexer/pkg/retry"
	"darkpool-indexer/pkg/stream"
)

// fakeChain 按区块范围返回预置日志，可注入 RPC 失败
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	failures int
	queries  []ethereum.FilterQuery
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("rpc: 503 service unavailable")
	}
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func fastRetry() retry.Config {
	return retry.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func registeredLog(t *testing.T, d *ABIDecoder, block uint64, rid string) types.Log {
	t.Helper()
	l, err := d.EncodeRecoveryIDRegistered(testContract, stream.MustParseScalar(rid), model.KindBalance, []byte("share"))
	require.NoError(t, err)
	l.BlockNumber = block
	return l
}

func newTestObserver(t *testing.T, chain *fakeChain, q mq.Queue, opts Options) (*EthObserver, *ABIDecoder) {
	t.Helper()
	d, err := NewArbitrumDecoder()
	require.NoError(t, err)
	opts.Chain = "arbitrum-test"
	opts.Contract = testContract
	opts.Retry = fastRetry()
	return NewEthObserver(opts, chain, d, q, storetest.New(t), zap.NewNop()), d
}

func drain(t *testing.T, q *mq.MemoryQueue) []*event.Envelope {
	t.Helper()
	ds, err := q.Poll(context.Background(), 100, time.Minute)
	require.NoError(t, err)
	var out []*event.Envelope
	for _, d := range ds {
		env, err := event.Decode(d.Payload)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func TestScanOnceEnqueuesWindowAndAdvancesCursor(t *testing.T) {
	chain := &fakeChain{head: 100}
	q := mq.NewMemoryQueue()
	o, d := newTestObserver(t, chain, q, Options{Window: 10, Confirmations: 5})
	chain.logs = []types.Log{
		registeredLog(t, d, 3, "0x01"),
		registeredLog(t, d, 10, "0x02"),
		registeredLog(t, d, 11, "0x03"),
	}
	ctx := context.Background()

	next, scanned, err := o.scanOnce(ctx, 0)
	require.NoError(t, err)
	assert.True(t, scanned)
	assert.Equal(t, uint64(10), next)
	assert.Equal(t, uint64(10), o.CurrentHeight())

	envs := drain(t, q)
	require.Len(t, envs, 2)
	assert.Equal(t, event.TypeRecoveryIDRegistered, envs[0].Type)
	assert.Equal(t, "arbitrum-test", envs[0].Chain)

	saved, ok, err := o.cursors.Cursor(ctx, "arbitrum-test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), saved)
}

func TestScanOnceRespectsConfirmations(t *testing.T) {
	chain := &fakeChain{head: 12}
	o, _ := newTestObserver(t, chain, mq.NewMemoryQueue(), Options{Window: 100, Confirmations: 2})

	next, scanned, err := o.scanOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, scanned)
	assert.Equal(t, uint64(10), next)

	// 没有新的安全区块
	next, scanned, err = o.scanOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, scanned)
	assert.Equal(t, uint64(10), next)
}

func TestScanOnceSkipsUndecodableLogs(t *testing.T) {
	chain := &fakeChain{head: 50}
	q := mq.NewMemoryQueue()
	o, d := newTestObserver(t, chain, q, Options{Window: 50})

	bad := registeredLog(t, d, 5, "0x10")
	bad.Data = bad.Data[:8]
	reorged := registeredLog(t, d, 6, "0x11")
	reorged.Removed = true
	chain.logs = []types.Log{bad, reorged, registeredLog(t, d, 7, "0x12")}

	next, _, err := o.scanOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), next)

	envs := drain(t, q)
	require.Len(t, envs, 1)
	ev, err := envs[0].RecoveryIDRegistered()
	require.NoError(t, err)
	assert.Equal(t, stream.MustParseScalar("0x12"), ev.RecoveryID)
}

func TestScanOnceRetriesRPCFailures(t *testing.T) {
	chain := &fakeChain{head: 20, failures: 3}
	q := mq.NewMemoryQueue()
	o, d := newTestObserver(t, chain, q, Options{Window: 20})
	chain.logs = []types.Log{registeredLog(t, d, 15, "0x20")}

	next, _, err := o.scanOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), next)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 0, chain.failures)
}

func TestRunResumesFromPersistedCursor(t *testing.T) {
	chain := &fakeChain{head: 30}
	q := mq.NewMemoryQueue()
	o, d := newTestObserver(t, chain, q, Options{Window: 100, StartBlock: 5, PollInterval: time.Millisecond})
	chain.logs = []types.Log{
		registeredLog(t, d, 4, "0x30"),
		registeredLog(t, d, 5, "0x31"),
		registeredLog(t, d, 25, "0x32"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	require.Eventually(t, func() bool { return o.CurrentHeight() == 30 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// StartBlock 之前的日志不扫描
	assert.Equal(t, uint64(5), chain.queries[0].FromBlock.Uint64())
	assert.Equal(t, 2, q.Len())

	// 重启后从持久化游标继续，不重复入队
	chain.logs = append(chain.logs, registeredLog(t, d, 31, "0x33"))
	chain.head = 31
	restarted := NewEthObserver(o.opts, chain, d, q, o.cursors, zap.NewNop())
	ctx, cancel = context.WithCancel(context.Background())
	go func() { done <- restarted.Run(ctx) }()
	require.Eventually(t, func() bool { return restarted.CurrentHeight() == 31 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, q.Len())
}

func TestStaleCursorReplaysAtLeastOnce(t *testing.T) {
	chain := &fakeChain{head: 10}
	q := mq.NewMemoryQueue()
	o, d := newTestObserver(t, chain, q, Options{Window: 10})
	chain.logs = []types.Log{registeredLog(t, d, 9, "0x40")}

	_, _, err := o.scanOnce(context.Background(), 0)
	require.NoError(t, err)
	// 游标落后时重新扫描同一窗口，事件会再次入队，由下游幂等处理
	_, _, err = o.scanOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())
}
