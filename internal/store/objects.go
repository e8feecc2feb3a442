package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"darkpool-indexer/internal/model"
	"darkpool-indexer/pkg/stream"
)

func (s *Store) CreateBalance(ctx context.Context, b *model.Balance) error {
	return translate(s.db.WithContext(ctx).Create(b).Error, "create balance")
}

func (s *Store) CreateIntent(ctx context.Context, i *model.Intent) error {
	return translate(s.db.WithContext(ctx).Create(i).Error, "create intent")
}

// BalanceByNullifier only returns Materialized balances.
func (s *Store) BalanceByNullifier(ctx context.Context, nullifier stream.Scalar) (*model.Balance, error) {
	var b model.Balance
	err := s.materialized(ctx, nullifier).First(&b).Error
	if err != nil {
		return nil, translate(err, "load balance by nullifier")
	}
	return &b, nil
}

// IntentByNullifier only returns Materialized intents.
func (s *Store) IntentByNullifier(ctx context.Context, nullifier stream.Scalar) (*model.Intent, error) {
	var i model.Intent
	err := s.materialized(ctx, nullifier).First(&i).Error
	if err != nil {
		return nil, translate(err, "load intent by nullifier")
	}
	return &i, nil
}

func (s *Store) materialized(ctx context.Context, nullifier stream.Scalar) *gorm.DB {
	return s.db.WithContext(ctx).Where("nullifier = ? AND status = ?", nullifier, model.StatusMaterialized)
}

// MarkSpent moves a Materialized object of the given kind to Spent.
func (s *Store) MarkSpent(ctx context.Context, kind model.ObjectKind, recoveryID stream.Scalar, block uint64) error {
	var m interface{} = &model.Balance{}
	if kind == model.KindIntent {
		m = &model.Intent{}
	}
	res := s.db.WithContext(ctx).Model(m).
		Where("recovery_id = ? AND status = ?", recoveryID, model.StatusMaterialized).
		Updates(map[string]interface{}{"status": model.StatusSpent, "spent_block": block})
	if res.Error != nil {
		return translate(res.Error, "mark object spent")
	}
	if res.RowsAffected != 1 {
		return ErrStaleObject
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, recoveryID stream.Scalar) (*model.Balance, error) {
	var b model.Balance
	err := s.db.WithContext(ctx).Where("recovery_id = ?", recoveryID).First(&b).Error
	if err != nil {
		return nil, translate(err, "load balance")
	}
	return &b, nil
}

func (s *Store) Intent(ctx context.Context, recoveryID stream.Scalar) (*model.Intent, error) {
	var i model.Intent
	err := s.db.WithContext(ctx).Where("recovery_id = ?", recoveryID).First(&i).Error
	if err != nil {
		return nil, translate(err, "load intent")
	}
	return &i, nil
}

func (s *Store) Balances(ctx context.Context, accountID uuid.UUID) ([]model.Balance, error) {
	var out []model.Balance
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("stream_index, version").Find(&out).Error
	return out, translate(err, "list balances")
}

func (s *Store) Intents(ctx context.Context, accountID uuid.UUID) ([]model.Intent, error) {
	var out []model.Intent
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("stream_index, version").Find(&out).Error
	return out, translate(err, "list intents")
}
