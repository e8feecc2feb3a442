package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"darkpool-indexer/internal/model"
	"darkpool-indexer/pkg/stream"
)

// Type 消息类型，作为队列信封的路由键
type Type string

const (
	TypeRecoveryIDRegistered   Type = "recovery_id_registered"
	TypeNullifierSpent         Type = "nullifier_spent"
	TypeRegisterMasterViewSeed Type = "register_master_view_seed"
)

// Transition is the effect a spend has on the object it nullifies.
type Transition uint8

const (
	// TransitionSpend consumes the object (withdrawal, cancellation).
	TransitionSpend Transition = iota
	// TransitionSettle consumes the object and yields a successor version
	// of the same kind carrying the post-settlement share.
	TransitionSettle
)

func (t Transition) String() string {
	switch t {
	case TransitionSpend:
		return "spend"
	case TransitionSettle:
		return "settle"
	default:
		return fmt.Sprintf("transition(%d)", uint8(t))
	}
}

var ErrMalformed = errors.New("malformed event")

// RecoveryIDRegistered 链上新对象的公开承诺及其加密公共份额
type RecoveryIDRegistered struct {
	RecoveryID stream.Scalar    `json:"recovery_id"`
	Kind       model.ObjectKind `json:"kind"`
	Ciphertext hexutil.Bytes    `json:"ciphertext"`
	Block      uint64           `json:"block"`
	TxHash     common.Hash      `json:"tx_hash"`
}

// NullifierSpent 对象被花费。Settle 时 Ciphertext 是后继版本的公共份额
type NullifierSpent struct {
	Nullifier  stream.Scalar `json:"nullifier"`
	Transition Transition    `json:"transition"`
	Ciphertext hexutil.Bytes `json:"ciphertext,omitempty"`
	Block      uint64        `json:"block"`
	TxHash     common.Hash   `json:"tx_hash"`
}

// RegisterMasterViewSeed 账户开户，由上游 HTTP 服务提交
type RegisterMasterViewSeed struct {
	AccountID    uuid.UUID      `json:"account_id"`
	OwnerAddress common.Address `json:"owner_address"`
	Seed         stream.Scalar  `json:"seed"`
}

// Envelope is the body of every queue message.
type Envelope struct {
	Type    Type            `json:"type"`
	Chain   string          `json:"chain,omitempty"`
	Attempt int             `json:"attempt,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func newEnvelope(t Type, chain string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Chain: chain, Payload: raw}, nil
}

func NewRecoveryIDRegistered(chain string, ev RecoveryIDRegistered) (*Envelope, error) {
	return newEnvelope(TypeRecoveryIDRegistered, chain, ev)
}

func NewNullifierSpent(chain string, ev NullifierSpent) (*Envelope, error) {
	return newEnvelope(TypeNullifierSpent, chain, ev)
}

func NewRegisterMasterViewSeed(ev RegisterMasterViewSeed) (*Envelope, error) {
	return newEnvelope(TypeRegisterMasterViewSeed, "", ev)
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a queue message body. Unknown types are ErrMalformed.
func Decode(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch e.Type {
	case TypeRecoveryIDRegistered, TypeNullifierSpent, TypeRegisterMasterViewSeed:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	}
	return &e, nil
}

func (e *Envelope) RecoveryIDRegistered() (RecoveryIDRegistered, error) {
	var ev RecoveryIDRegistered
	if err := e.unmarshal(TypeRecoveryIDRegistered, &ev); err != nil {
		return ev, err
	}
	if !ev.Kind.Valid() {
		return ev, fmt.Errorf("%w: object kind %q", ErrMalformed, ev.Kind)
	}
	return ev, nil
}

func (e *Envelope) NullifierSpent() (NullifierSpent, error) {
	var ev NullifierSpent
	if err := e.unmarshal(TypeNullifierSpent, &ev); err != nil {
		return ev, err
	}
	if ev.Transition > TransitionSettle {
		return ev, fmt.Errorf("%w: %s", ErrMalformed, ev.Transition)
	}
	if ev.Transition == TransitionSettle && len(ev.Ciphertext) == 0 {
		return ev, fmt.Errorf("%w: settle without successor share", ErrMalformed)
	}
	return ev, nil
}

func (e *Envelope) RegisterMasterViewSeed() (RegisterMasterViewSeed, error) {
	var ev RegisterMasterViewSeed
	if err := e.unmarshal(TypeRegisterMasterViewSeed, &ev); err != nil {
		return ev, err
	}
	if ev.AccountID == uuid.Nil || ev.Seed.IsZero() {
		return ev, fmt.Errorf("%w: missing account id or seed", ErrMalformed)
	}
	return ev, nil
}

func (e *Envelope) unmarshal(want Type, v interface{}) error {
	if e.Type != want {
		return fmt.Errorf("%w: envelope is %s, not %s", ErrMalformed, e.Type, want)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
