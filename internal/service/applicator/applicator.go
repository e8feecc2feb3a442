package applicator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/internal/model"
	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/internal/store"
	"darkpool-indexer/pkg/monitor"
	"darkpool-indexer/pkg/stream"
)

// Outcome classifies what Apply did with a message. The worker decides the
// message's fate from it.
type Outcome int

const (
	// Failed 存储或内部错误，消息不删除，等待可见性超时后重投
	Failed Outcome = iota
	Applied
	Duplicate
	Unmatched
	Rejected
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Unmatched:
		return "unmatched"
	case Rejected:
		return "rejected"
	case Deferred:
		return "deferred"
	default:
		return "failed"
	}
}

var (
	// ErrPredecessorMissing means no Materialized object carries the nullifier yet.
	ErrPredecessorMissing = errors.New("predecessor not materialized")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrUnknownObject      = errors.New("unknown object")
)

const replayPageSize = 100

// Applicator is the state machine that turns queue messages into store rows.
// Every mutation is gated behind a guard-row insert in the same transaction.
type Applicator struct {
	store     *store.Store
	queue     mq.Queue
	chains    map[string]mq.Queue
	lookahead int
	logger    *zap.Logger
}

func New(st *store.Store, queue mq.Queue, lookahead int, logger *zap.Logger) *Applicator {
	if lookahead <= 0 {
		lookahead = 8
	}
	return &Applicator{store: st, queue: queue, chains: map[string]mq.Queue{}, lookahead: lookahead, logger: logger}
}

// RouteChain sends replayed events of chain to q instead of the default
// queue. Call it before the applicator is shared.
func (a *Applicator) RouteChain(chain string, q mq.Queue) {
	a.chains[chain] = q
}

func (a *Applicator) queueFor(chain string) mq.Queue {
	if q, ok := a.chains[chain]; ok {
		return q
	}
	return a.queue
}

// Apply processes one envelope. It is idempotent.
func (a *Applicator) Apply(ctx context.Context, env *event.Envelope) (Outcome, error) {
	start := time.Now()
	outcome, err := a.apply(ctx, env)
	monitor.Indexer.ApplyDuration.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())
	monitor.Indexer.MessagesApplied.WithLabelValues(string(env.Type), outcome.String()).Inc()
	return outcome, err
}

func (a *Applicator) apply(ctx context.Context, env *event.Envelope) (Outcome, error) {
	switch env.Type {
	case event.TypeRecoveryIDRegistered:
		ev, err := env.RecoveryIDRegistered()
		if err != nil {
			return Rejected, err
		}
		return a.applyRegistered(ctx, env, ev)
	case event.TypeNullifierSpent:
		ev, err := env.NullifierSpent()
		if err != nil {
			return Rejected, err
		}
		return a.applySpent(ctx, ev)
	case event.TypeRegisterMasterViewSeed:
		ev, err := env.RegisterMasterViewSeed()
		if err != nil {
			return Rejected, err
		}
		return a.RegisterMasterViewSeed(ctx, ev)
	default:
		return Rejected, fmt.Errorf("%w: unknown type %q", event.ErrMalformed, env.Type)
	}
}

func (a *Applicator) applyRegistered(ctx context.Context, env *event.Envelope, ev event.RecoveryIDRegistered) (Outcome, error) {
	log := a.logger.With(zap.Stringer("recovery_id", ev.RecoveryID), zap.Uint64("block", ev.Block))

	// 先查守卫: 重复投递时候选条目已被消费，不能当作未匹配
	done, err := a.store.RecoveryIDProcessed(ctx, ev.RecoveryID)
	if err != nil {
		return Failed, err
	}
	if done {
		return Duplicate, nil
	}

	candidate, err := a.store.ExpectedByRecoveryID(ctx, ev.RecoveryID)
	if errors.Is(err, store.ErrNotFound) {
		// 并发 worker 可能刚好提交并消费了候选条目
		if done, err := a.store.RecoveryIDProcessed(ctx, ev.RecoveryID); err != nil || done {
			return duplicateOr(err)
		}
		if err := a.retain(ctx, env, "rid:"+ev.RecoveryID.Hex(), "unmatched"); err != nil {
			return Failed, err
		}
		monitor.Indexer.Unmatched.Inc()
		log.Info("Recovery id has no expected candidate, retained for backfill")
		return Unmatched, nil
	}
	if err != nil {
		return Failed, err
	}

	share, err := event.OpenShare(candidate.ShareSeed, ev.Ciphertext)
	if err != nil {
		log.Warn("Public share failed to open under candidate share seed",
			zap.Stringer("account_id", candidate.AccountID), zap.Error(err))
		return Rejected, err
	}

	obj := model.StateObject{
		RecoveryID:   ev.RecoveryID,
		AccountID:    candidate.AccountID,
		StreamIndex:  candidate.StreamIndex,
		ShareSeed:    candidate.ShareSeed,
		PublicShare:  ev.Ciphertext,
		Nullifier:    stream.Nullifier(ev.RecoveryID, ev.Ciphertext),
		Mint:         share.Mint.Hex(),
		Amount:       share.AmountDecimal(),
		Status:       model.StatusMaterialized,
		CreatedBlock: ev.Block,
		CreatedTx:    ev.TxHash.Hex(),
	}

	err = a.store.Transaction(ctx, func(tx *store.Store) error {
		// 仲裁点: 唯一约束冲突说明其他 worker 已经应用
		if err := tx.MarkRecoveryIDProcessed(ctx, ev.RecoveryID, ev.Block); err != nil {
			return err
		}
		if err := createObject(ctx, tx, ev.Kind, obj, share, nil); err != nil {
			return err
		}
		if err := tx.DeleteExpected(ctx, ev.RecoveryID); err != nil {
			return err
		}
		_, err := a.replenish(ctx, tx, candidate.AccountID)
		return err
	})
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return Duplicate, nil
	}
	if err != nil {
		return Failed, err
	}

	log.Info("State object materialized",
		zap.String("kind", string(ev.Kind)),
		zap.Stringer("account_id", candidate.AccountID),
		zap.Uint64("stream_index", candidate.StreamIndex))
	return Applied, nil
}

func (a *Applicator) applySpent(ctx context.Context, ev event.NullifierSpent) (Outcome, error) {
	log := a.logger.With(zap.Stringer("nullifier", ev.Nullifier), zap.Uint64("block", ev.Block))

	done, err := a.store.NullifierProcessed(ctx, ev.Nullifier)
	if err != nil {
		return Failed, err
	}
	if done {
		return Duplicate, nil
	}

	kind, obj, err := a.spendable(ctx, ev.Nullifier)
	if errors.Is(err, store.ErrNotFound) {
		if done, err := a.store.NullifierProcessed(ctx, ev.Nullifier); err != nil || done {
			return duplicateOr(err)
		}
		return Deferred, ErrPredecessorMissing
	}
	if err != nil {
		return Failed, err
	}

	var (
		successor    *model.StateObject
		successorOut event.Share
	)
	if ev.Transition == event.TransitionSettle {
		rid, shareSeed := stream.Successor(obj.ShareSeed, obj.RecoveryID)
		share, err := event.OpenShare(shareSeed, ev.Ciphertext)
		if err != nil {
			log.Warn("Successor share failed to open", zap.Stringer("recovery_id", obj.RecoveryID), zap.Error(err))
			return Rejected, err
		}
		successor = &model.StateObject{
			RecoveryID:   rid,
			AccountID:    obj.AccountID,
			StreamIndex:  obj.StreamIndex,
			Version:      obj.Version + 1,
			ShareSeed:    shareSeed,
			PublicShare:  ev.Ciphertext,
			Nullifier:    stream.Nullifier(rid, ev.Ciphertext),
			Mint:         share.Mint.Hex(),
			Amount:       share.AmountDecimal(),
			Status:       model.StatusMaterialized,
			CreatedBlock: ev.Block,
			CreatedTx:    ev.TxHash.Hex(),
		}
		successorOut = share
	}

	err = a.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.MarkNullifierProcessed(ctx, ev.Nullifier, ev.Block); err != nil {
			return err
		}
		if err := tx.MarkSpent(ctx, kind, obj.RecoveryID, ev.Block); err != nil {
			return err
		}
		if successor == nil {
			return nil
		}
		if err := tx.MarkRecoveryIDProcessed(ctx, successor.RecoveryID, ev.Block); err != nil {
			return err
		}
		return createObject(ctx, tx, kind, *successor, successorOut, &obj.RecoveryID)
	})
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return Duplicate, nil
	}
	if err != nil {
		return Failed, err
	}

	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Stringer("recovery_id", obj.RecoveryID),
		zap.Stringer("transition", ev.Transition),
	}
	if successor != nil {
		fields = append(fields, zap.Stringer("successor", successor.RecoveryID), zap.Uint64("version", successor.Version))
	}
	log.Info("State object spent", fields...)
	return Applied, nil
}

func duplicateOr(err error) (Outcome, error) {
	if err != nil {
		return Failed, err
	}
	return Duplicate, nil
}

// spendable finds the Materialized balance or intent carrying nullifier.
func (a *Applicator) spendable(ctx context.Context, nullifier stream.Scalar) (model.ObjectKind, model.StateObject, error) {
	b, err := a.store.BalanceByNullifier(ctx, nullifier)
	if err == nil {
		return model.KindBalance, b.StateObject, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", model.StateObject{}, err
	}
	i, err := a.store.IntentByNullifier(ctx, nullifier)
	if err != nil {
		return "", model.StateObject{}, err
	}
	return model.KindIntent, i.StateObject, nil
}

func createObject(ctx context.Context, tx *store.Store, kind model.ObjectKind, obj model.StateObject, share event.Share, predecessor *stream.Scalar) error {
	switch kind {
	case model.KindBalance:
		return tx.CreateBalance(ctx, &model.Balance{StateObject: obj})
	case model.KindIntent:
		return tx.CreateIntent(ctx, &model.Intent{
			StateObject: obj,
			OutputMint:  share.OutputMint.Hex(),
			Predecessor: predecessor,
		})
	default:
		return fmt.Errorf("%w: object kind %q", event.ErrMalformed, kind)
	}
}

// RegisterMasterViewSeed stores the account's seed and fills its buffer. A
// second registration never replaces the stored seed.
func (a *Applicator) RegisterMasterViewSeed(ctx context.Context, ev event.RegisterMasterViewSeed) (Outcome, error) {
	var inserted bool
	err := a.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		inserted, err = tx.InsertMasterViewSeed(ctx, &model.MasterViewSeed{
			AccountID:    ev.AccountID,
			OwnerAddress: ev.OwnerAddress.Hex(),
			Seed:         ev.Seed,
		})
		if err != nil {
			return err
		}
		_, err = a.replenish(ctx, tx, ev.AccountID)
		return err
	})
	if err != nil {
		return Failed, err
	}
	if !inserted {
		return Duplicate, nil
	}
	a.logger.Info("Master view seed registered", zap.Stringer("account_id", ev.AccountID))
	return Applied, nil
}

// replenish tops the account's buffer up to the look-ahead size. Must run in
// a transaction: the seed row lock serializes concurrent replenishments.
func (a *Applicator) replenish(ctx context.Context, tx *store.Store, account uuid.UUID) (int, error) {
	seed, err := tx.LockMasterViewSeed(ctx, account)
	if err != nil {
		return 0, err
	}
	have, err := tx.CountExpected(ctx, account)
	if err != nil {
		return 0, err
	}
	missing := a.lookahead - int(have)
	if missing <= 0 {
		return 0, nil
	}

	s := stream.NewStream(seed.Seed, seed.NextIndex)
	rows := make([]model.ExpectedStateObject, 0, missing)
	for i := 0; i < missing; i++ {
		slot := s.Next()
		rows = append(rows, model.ExpectedStateObject{
			RecoveryID:  slot.RecoveryID,
			AccountID:   account,
			StreamIndex: slot.Index,
			ShareSeed:   slot.ShareSeed,
		})
	}
	if err := tx.InsertExpected(ctx, rows); err != nil {
		return 0, err
	}
	if err := tx.SetNextIndex(ctx, account, s.Position()); err != nil {
		return 0, err
	}
	monitor.Indexer.BufferDerived.Add(float64(missing))
	return missing, nil
}

// TopUp refills one account's buffer outside any event.
func (a *Applicator) TopUp(ctx context.Context, account uuid.UUID) (int, error) {
	var derived int
	err := a.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		derived, err = a.replenish(ctx, tx, account)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return derived, err
}

// TopUpAll refills every account's buffer and returns how many entries were derived.
func (a *Applicator) TopUpAll(ctx context.Context) (int, error) {
	accounts, err := a.store.AccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, account := range accounts {
		n, err := a.TopUp(ctx, account)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// State is a point-in-time view of one account's objects.
type State struct {
	AccountID uuid.UUID       `json:"account_id"`
	Balances  []model.Balance `json:"balances"`
	Intents   []model.Intent  `json:"intents"`
}

// GetState reads every balance and intent of the account, spent ones included.
func (a *Applicator) GetState(ctx context.Context, account uuid.UUID) (*State, error) {
	state := &State{AccountID: account}
	err := a.store.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.MasterViewSeed(ctx, account); err != nil {
			return err
		}
		var err error
		if state.Balances, err = tx.Balances(ctx, account); err != nil {
			return err
		}
		state.Intents, err = tx.Intents(ctx, account)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Object is one balance or intent looked up by recovery id.
type Object struct {
	Kind    model.ObjectKind `json:"kind"`
	Balance *model.Balance   `json:"balance,omitempty"`
	Intent  *model.Intent    `json:"intent,omitempty"`
}

// Lookup finds the object registered under recoveryID, whichever kind it is.
func (a *Applicator) Lookup(ctx context.Context, recoveryID stream.Scalar) (*Object, error) {
	b, err := a.store.Balance(ctx, recoveryID)
	if err == nil {
		return &Object{Kind: model.KindBalance, Balance: b}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	i, err := a.store.Intent(ctx, recoveryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, recoveryID.Hex())
	}
	if err != nil {
		return nil, err
	}
	return &Object{Kind: model.KindIntent, Intent: i}, nil
}

// BackfillResult reports what a backfill did.
type BackfillResult struct {
	Derived  int `json:"derived"`
	Replayed int `json:"replayed"`
}

// Backfill tops up the account's buffer and re-enqueues every retained
// unmatched message so it is matched against the refreshed buffers.
func (a *Applicator) Backfill(ctx context.Context, account uuid.UUID) (BackfillResult, error) {
	var res BackfillResult
	derived, err := a.TopUp(ctx, account)
	if err != nil {
		return res, err
	}
	res.Derived = derived

	res.Replayed, err = a.ReplayRetained(ctx)
	if err != nil {
		return res, err
	}
	a.logger.Info("Backfill finished",
		zap.Stringer("account_id", account),
		zap.Int("derived", res.Derived),
		zap.Int("replayed", res.Replayed))
	return res, nil
}

// ReplayRetained moves retained messages back onto their chain's queue. Each
// row is deleted in the same transaction as its send, so a failed send keeps
// it. Only rows present when the pass starts are replayed; events that are
// retained again while it runs wait for the next pass.
func (a *Applicator) ReplayRetained(ctx context.Context) (int, error) {
	if a.queue == nil {
		return 0, errors.New("replay needs a queue")
	}
	upTo, err := a.store.MaxRetainedID(ctx)
	if err != nil {
		return 0, err
	}
	replayed := 0
	var after uint64
	for after < upTo {
		rows, err := a.store.RetainedMessages(ctx, after, upTo, replayPageSize)
		if err != nil {
			return replayed, err
		}
		for _, row := range rows {
			err := a.store.Transaction(ctx, func(tx *store.Store) error {
				if err := tx.DeleteRetained(ctx, row.ID); err != nil {
					return err
				}
				_, err := a.queueFor(row.Chain).Send(ctx, &mq.Message{Key: row.DedupKey, Payload: row.Payload})
				return err
			})
			if err != nil {
				return replayed, err
			}
			replayed++
			after = row.ID
		}
		if len(rows) < replayPageSize {
			break
		}
	}
	return replayed, nil
}

func (a *Applicator) retain(ctx context.Context, env *event.Envelope, key, reason string) error {
	copied := *env
	copied.Attempt = 0
	body, err := copied.Marshal()
	if err != nil {
		return err
	}
	return a.store.RetainMessage(ctx, &model.RetainedMessage{
		DedupKey:    key,
		MessageType: string(env.Type),
		Chain:       env.Chain,
		Reason:      reason,
		Payload:     body,
	})
}
