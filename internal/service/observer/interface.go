package observer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"darkpool-indexer/internal/event"
)

// ChainObserver 定义了每条链的扫描循环
type ChainObserver interface {
	// Run 阻塞直到 ctx 取消；当前批次完成后才返回
	Run(ctx context.Context) error

	// CurrentHeight 最后一个完整入队的区块
	CurrentHeight() uint64
}

// LogSource is the read-only slice of the chain RPC the listener needs.
// *ethclient.Client satisfies it.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogDecoder turns contract logs of one deployment into canonical events.
// Each chain picks its variant at startup.
type LogDecoder interface {
	Name() string
	EventSignatures() []common.Hash
	DecodeLog(l types.Log) (Decoded, error)
}

// CursorStore persists the per-chain scan cursor.
type CursorStore interface {
	Cursor(ctx context.Context, chain string) (uint64, bool, error)
	SaveCursor(ctx context.Context, chain string, block uint64) error
}

// Decoded holds exactly one canonical event.
type Decoded struct {
	RecoveryIDRegistered *event.RecoveryIDRegistered
	NullifierSpent       *event.NullifierSpent
}

// Envelope wraps the decoded event for the queue.
func (d Decoded) Envelope(chain string) (*event.Envelope, error) {
	switch {
	case d.RecoveryIDRegistered != nil:
		return event.NewRecoveryIDRegistered(chain, *d.RecoveryIDRegistered)
	case d.NullifierSpent != nil:
		return event.NewNullifierSpent(chain, *d.NullifierSpent)
	default:
		return nil, ErrUnknownEvent
	}
}

// Key groups messages about the same object.
func (d Decoded) Key() string {
	switch {
	case d.RecoveryIDRegistered != nil:
		return d.RecoveryIDRegistered.RecoveryID.Hex()
	case d.NullifierSpent != nil:
		return d.NullifierSpent.Nullifier.Hex()
	default:
		return ""
	}
}

var (
	ErrUnknownEvent = errors.New("unknown event signature")
	ErrRemovedLog   = errors.New("log removed by reorg")
	ErrMalformedLog = errors.New("malformed log")
)
