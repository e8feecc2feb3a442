package observer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/internal/model"
	"darkpool-indexer/pkg/stream"
)

// Arbitrum deployments index the identifiers as topics.
const arbitrumABI = `[
 {"type":"event","name":"RecoveryIdRegistered","anonymous":false,"inputs":[
  {"name":"recoveryId","type":"uint256","indexed":true},
  {"name":"objectType","type":"uint8","indexed":false},
  {"name":"publicShare","type":"bytes","indexed":false}]},
 {"type":"event","name":"NullifierSpent","anonymous":false,"inputs":[
  {"name":"nullifier","type":"uint256","indexed":true},
  {"name":"transition","type":"uint8","indexed":false},
  {"name":"successorShare","type":"bytes","indexed":false}]}
]`

// Base deployments emit the older event names with everything in data.
const baseABI = `[
 {"type":"event","name":"StateObjectCreated","anonymous":false,"inputs":[
  {"name":"recoveryId","type":"uint256","indexed":false},
  {"name":"objectType","type":"uint8","indexed":false},
  {"name":"publicShare","type":"bytes","indexed":false}]},
 {"type":"event","name":"NullifierUsed","anonymous":false,"inputs":[
  {"name":"nullifier","type":"uint256","indexed":false},
  {"name":"transition","type":"uint8","indexed":false},
  {"name":"successorShare","type":"bytes","indexed":false}]}
]`

// on-chain objectType encoding
var objectKinds = map[uint8]model.ObjectKind{
	0: model.KindBalance,
	1: model.KindIntent,
}

// ABIDecoder decodes one contract ABI variant.
type ABIDecoder struct {
	name       string
	abi        abi.ABI
	registered abi.Event
	spent      abi.Event
}

func newABIDecoder(name, abiJSON, registered, spent string) (*ABIDecoder, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse %s abi: %w", name, err)
	}
	return &ABIDecoder{
		name:       name,
		abi:        parsed,
		registered: parsed.Events[registered],
		spent:      parsed.Events[spent],
	}, nil
}

func NewArbitrumDecoder() (*ABIDecoder, error) {
	return newABIDecoder("arbitrum", arbitrumABI, "RecoveryIdRegistered", "NullifierSpent")
}

func NewBaseDecoder() (*ABIDecoder, error) {
	return newABIDecoder("base", baseABI, "StateObjectCreated", "NullifierUsed")
}

// DecoderFor selects the variant by explicit name or by chain name prefix.
func DecoderFor(variant, chain string) (*ABIDecoder, error) {
	if variant == "" {
		variant = chain
	}
	switch {
	case strings.HasPrefix(variant, "arbitrum"):
		return NewArbitrumDecoder()
	case strings.HasPrefix(variant, "base"):
		return NewBaseDecoder()
	default:
		return nil, fmt.Errorf("no log decoder for chain %q (decoder %q)", chain, variant)
	}
}

func (d *ABIDecoder) Name() string {
	return d.name
}

func (d *ABIDecoder) EventSignatures() []common.Hash {
	return []common.Hash{d.registered.ID, d.spent.ID}
}

func (d *ABIDecoder) DecodeLog(l types.Log) (Decoded, error) {
	if l.Removed {
		return Decoded{}, ErrRemovedLog
	}
	if len(l.Topics) == 0 {
		return Decoded{}, ErrUnknownEvent
	}

	switch l.Topics[0] {
	case d.registered.ID:
		fields, err := d.unpack(d.registered, l)
		if err != nil {
			return Decoded{}, err
		}
		rid, err := scalarField(fields, "recoveryId")
		if err != nil {
			return Decoded{}, err
		}
		kind, ok := objectKinds[fields["objectType"].(uint8)]
		if !ok {
			return Decoded{}, fmt.Errorf("%w: object type %v", ErrMalformedLog, fields["objectType"])
		}
		return Decoded{RecoveryIDRegistered: &event.RecoveryIDRegistered{
			RecoveryID: rid,
			Kind:       kind,
			Ciphertext: fields["publicShare"].([]byte),
			Block:      l.BlockNumber,
			TxHash:     l.TxHash,
		}}, nil

	case d.spent.ID:
		fields, err := d.unpack(d.spent, l)
		if err != nil {
			return Decoded{}, err
		}
		nf, err := scalarField(fields, "nullifier")
		if err != nil {
			return Decoded{}, err
		}
		transition := event.Transition(fields["transition"].(uint8))
		if transition > event.TransitionSettle {
			return Decoded{}, fmt.Errorf("%w: %s", ErrMalformedLog, transition)
		}
		ns := &event.NullifierSpent{
			Nullifier:  nf,
			Transition: transition,
			Block:      l.BlockNumber,
			TxHash:     l.TxHash,
		}
		if share := fields["successorShare"].([]byte); len(share) > 0 {
			ns.Ciphertext = share
		}
		return Decoded{NullifierSpent: ns}, nil

	default:
		return Decoded{}, ErrUnknownEvent
	}
}

func (d *ABIDecoder) unpack(ev abi.Event, l types.Log) (map[string]interface{}, error) {
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(l.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%w: %s expects %d topics, got %d", ErrMalformedLog, ev.Name, len(indexed)+1, len(l.Topics))
	}

	fields := make(map[string]interface{})
	if err := d.abi.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	return fields, nil
}

func scalarField(fields map[string]interface{}, name string) (stream.Scalar, error) {
	v, _ := fields[name].(*big.Int)
	s, err := stream.ScalarFromBig(v)
	if err != nil {
		return s, fmt.Errorf("%w: %s: %v", ErrMalformedLog, name, err)
	}
	return s, nil
}

// EncodeRecoveryIDRegistered builds the log this variant's contract emits.
// Used by fixtures and the CLI simulator.
func (d *ABIDecoder) EncodeRecoveryIDRegistered(contract common.Address, rid stream.Scalar, kind model.ObjectKind, share []byte) (types.Log, error) {
	var code uint8
	for k, v := range objectKinds {
		if v == kind {
			code = k
		}
	}
	return d.encode(d.registered, contract, rid, code, share)
}

func (d *ABIDecoder) EncodeNullifierSpent(contract common.Address, nf stream.Scalar, t event.Transition, successorShare []byte) (types.Log, error) {
	if successorShare == nil {
		successorShare = []byte{}
	}
	return d.encode(d.spent, contract, nf, uint8(t), successorShare)
}

func (d *ABIDecoder) encode(ev abi.Event, contract common.Address, id stream.Scalar, code uint8, share []byte) (types.Log, error) {
	l := types.Log{Address: contract, Topics: []common.Hash{ev.ID}}

	var values []interface{}
	if ev.Inputs[0].Indexed {
		l.Topics = append(l.Topics, common.BytesToHash(id[:]))
	} else {
		values = append(values, id.Big())
	}
	values = append(values, code, share)

	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack %s: %w", ev.Name, err)
	}
	l.Data = data
	return l, nil
}
