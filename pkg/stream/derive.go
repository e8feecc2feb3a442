package stream

import (
	"encoding/binary"

	"darkpool-indexer/pkg/crypto_util"
)

// 域分离标签，修改会导致所有已派生的标识失效
const (
	tagRecoveryID          = "darkpool/recovery-id/v1"
	tagShareSeed           = "darkpool/share-seed/v1"
	tagSuccessorRecoveryID = "darkpool/successor-recovery-id/v1"
	tagSuccessorShareSeed  = "darkpool/successor-share-seed/v1"
)

// Slot is one element of an account's identifier/share stream.
type Slot struct {
	Index      uint64
	RecoveryID Scalar
	ShareSeed  Scalar
}

// Derive returns the recovery id and share seed at index for the given master
// view seed. It is pure: the same (seed, index) always yields the same pair.
func Derive(seed Scalar, index uint64) (recoveryID Scalar, shareSeed Scalar) {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)

	recoveryID = keyedScalar(seed, tagRecoveryID, idx[:])
	shareSeed = keyedScalar(seed, tagShareSeed, idx[:])
	return recoveryID, shareSeed
}

// Successor derives the identifiers of the next version of an object. Only the
// holder of the object's share seed can compute them.
func Successor(shareSeed, recoveryID Scalar) (Scalar, Scalar) {
	return keyedScalar(shareSeed, tagSuccessorRecoveryID, recoveryID[:]),
		keyedScalar(shareSeed, tagSuccessorShareSeed, recoveryID[:])
}

func keyedScalar(key Scalar, tag string, msg []byte) Scalar {
	wide := crypto_util.Blake3Keyed(key[:], 2*ScalarSize, []byte(tag), msg)
	return ScalarFromWide(wide)
}

// Stream is a restartable cursor over the slots of one seed. It is not safe
// for concurrent use; At is.
type Stream struct {
	seed Scalar
	next uint64
}

// NewStream positions a stream at index start.
func NewStream(seed Scalar, start uint64) *Stream {
	return &Stream{seed: seed, next: start}
}

// At gives random access by index without moving the cursor.
func (s *Stream) At(index uint64) Slot {
	rid, share := Derive(s.seed, index)
	return Slot{Index: index, RecoveryID: rid, ShareSeed: share}
}

// Next returns the slot under the cursor and advances it.
func (s *Stream) Next() Slot {
	slot := s.At(s.next)
	s.next++
	return slot
}

// Position is the index Next will return.
func (s *Stream) Position() uint64 {
	return s.next
}
