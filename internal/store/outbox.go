package store

import (
	"context"

	"gorm.io/gorm/clause"

	"darkpool-indexer/internal/model"
)

// RetainMessage keeps an unmatched event for later replay. Retaining the
// same dedup key twice is a no-op.
func (s *Store) RetainMessage(ctx context.Context, msg *model.RetainedMessage) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(msg).Error
	return translate(err, "retain message")
}

// RetainedMessages pages rows with afterID < id <= upToID in id order.
func (s *Store) RetainedMessages(ctx context.Context, afterID, upToID uint64, limit int) ([]model.RetainedMessage, error) {
	var out []model.RetainedMessage
	err := s.db.WithContext(ctx).
		Where("id > ? AND id <= ?", afterID, upToID).
		Order("id").Limit(limit).Find(&out).Error
	return out, translate(err, "list retained messages")
}

// MaxRetainedID is the highest retained id, 0 when the table is empty.
func (s *Store) MaxRetainedID(ctx context.Context) (uint64, error) {
	var max uint64
	err := s.db.WithContext(ctx).Model(&model.RetainedMessage{}).Select("COALESCE(MAX(id), 0)").Scan(&max).Error
	return max, translate(err, "max retained id")
}

func (s *Store) DeleteRetained(ctx context.Context, id uint64) error {
	return translate(s.db.WithContext(ctx).Delete(&model.RetainedMessage{}, id).Error, "delete retained message")
}

func (s *Store) InsertDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	if dl.Status == "" {
		dl.Status = model.OutboxPending
	}
	return translate(s.db.WithContext(ctx).Create(dl).Error, "insert dead letter")
}

// PendingDeadLetters 每次最多取 limit 条，避免内存爆炸
func (s *Store) PendingDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	var out []model.DeadLetter
	err := s.db.WithContext(ctx).Where("status = ?", model.OutboxPending).Order("id").Limit(limit).Find(&out).Error
	return out, translate(err, "list pending dead letters")
}

func (s *Store) MarkDeadLetterSent(ctx context.Context, id uint64) error {
	err := s.db.WithContext(ctx).Model(&model.DeadLetter{}).Where("id = ?", id).Update("status", model.OutboxSent).Error
	return translate(err, "mark dead letter sent")
}
