package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"darkpool-indexer/internal/model"
	"darkpool-indexer/pkg/stream"
)

// InsertMasterViewSeed creates the seed row. It reports false when the
// account already had one; the existing seed is never overwritten.
func (s *Store) InsertMasterViewSeed(ctx context.Context, seed *model.MasterViewSeed) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(seed)
	if res.Error != nil {
		return false, translate(res.Error, "insert master view seed")
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) MasterViewSeed(ctx context.Context, accountID uuid.UUID) (*model.MasterViewSeed, error) {
	var seed model.MasterViewSeed
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&seed).Error
	if err != nil {
		return nil, translate(err, "load master view seed")
	}
	return &seed, nil
}

// LockMasterViewSeed loads the seed row with a row lock held until the
// enclosing transaction ends, serializing buffer replenishment per account.
func (s *Store) LockMasterViewSeed(ctx context.Context, accountID uuid.UUID) (*model.MasterViewSeed, error) {
	var seed model.MasterViewSeed
	err := s.db.WithContext(ctx).Clauses(lockForUpdate()).Where("account_id = ?", accountID).First(&seed).Error
	if err != nil {
		return nil, translate(err, "lock master view seed")
	}
	return &seed, nil
}

func (s *Store) SetNextIndex(ctx context.Context, accountID uuid.UUID, next uint64) error {
	err := s.db.WithContext(ctx).Model(&model.MasterViewSeed{}).
		Where("account_id = ?", accountID).
		Update("next_index", next).Error
	return translate(err, "advance stream index")
}

func (s *Store) AccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.MasterViewSeed{}).Order("account_id").Pluck("account_id", &ids).Error
	return ids, translate(err, "list accounts")
}

func (s *Store) InsertExpected(ctx context.Context, rows []model.ExpectedStateObject) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(&rows).Error, "insert expected state objects")
}

func (s *Store) ExpectedByRecoveryID(ctx context.Context, recoveryID stream.Scalar) (*model.ExpectedStateObject, error) {
	var row model.ExpectedStateObject
	err := s.db.WithContext(ctx).Where("recovery_id = ?", recoveryID).First(&row).Error
	if err != nil {
		return nil, translate(err, "load expected state object")
	}
	return &row, nil
}

// DeleteExpected consumes a buffer entry. Deleting an absent entry is
// ErrStaleObject so a racing consumer aborts its transaction.
func (s *Store) DeleteExpected(ctx context.Context, recoveryID stream.Scalar) error {
	res := s.db.WithContext(ctx).Where("recovery_id = ?", recoveryID).Delete(&model.ExpectedStateObject{})
	if res.Error != nil {
		return translate(res.Error, "delete expected state object")
	}
	if res.RowsAffected == 0 {
		return ErrStaleObject
	}
	return nil
}

func (s *Store) CountExpected(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.ExpectedStateObject{}).Where("account_id = ?", accountID).Count(&n).Error
	return n, translate(err, "count expected state objects")
}

func (s *Store) ExpectedForAccount(ctx context.Context, accountID uuid.UUID) ([]model.ExpectedStateObject, error) {
	var rows []model.ExpectedStateObject
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("stream_index").Find(&rows).Error
	return rows, translate(err, "list expected state objects")
}
