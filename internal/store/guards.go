package store

import (
	"context"

	"darkpool-indexer/internal/model"
	"darkpool-indexer/pkg/stream"
)

func (s *Store) MarkRecoveryIDProcessed(ctx context.Context, recoveryID stream.Scalar, block uint64) error {
	row := &model.ProcessedRecoveryID{RecoveryID: recoveryID, Block: block}
	return s.insertGuard(ctx, row, "mark recovery id processed")
}

func (s *Store) RecoveryIDProcessed(ctx context.Context, recoveryID stream.Scalar) (bool, error) {
	ok, err := s.exists(ctx, &model.ProcessedRecoveryID{}, "recovery_id = ?", recoveryID)
	return ok, translate(err, "lookup processed recovery id")
}

func (s *Store) MarkNullifierProcessed(ctx context.Context, nullifier stream.Scalar, block uint64) error {
	row := &model.ProcessedNullifier{Nullifier: nullifier, Block: block}
	return s.insertGuard(ctx, row, "mark nullifier processed")
}

func (s *Store) NullifierProcessed(ctx context.Context, nullifier stream.Scalar) (bool, error) {
	ok, err := s.exists(ctx, &model.ProcessedNullifier{}, "nullifier = ?", nullifier)
	return ok, translate(err, "lookup processed nullifier")
}
