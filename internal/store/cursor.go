package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"darkpool-indexer/internal/model"
)

// Cursor returns the last fully enqueued block for chain; ok is false when
// the chain has never been scanned.
func (s *Store) Cursor(ctx context.Context, chain string) (block uint64, ok bool, err error) {
	var row model.IndexingCursor
	err = s.db.WithContext(ctx).Where("chain = ?", chain).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, translate(err, "load cursor")
	}
	return row.LastBlock, true, nil
}

// SaveCursor persists block for chain. The stored value never decreases: a
// lower block is ignored.
func (s *Store) SaveCursor(ctx context.Context, chain string, block uint64) error {
	row := &model.IndexingCursor{Chain: chain, LastBlock: block}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "indexing_metadata.last_block < excluded.last_block"},
		}},
	}).Create(row).Error
	return translate(err, "save cursor")
}
