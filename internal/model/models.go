package model

import (
	"time"

	"github.com/google/uuid"

	"darkpool-indexer/pkg/stream"
)

// MasterViewSeed 账户的根密钥，由索引器代为持有
// NextIndex 是下一个待派生的流位置 (look-ahead 缓冲区的补充游标)
type MasterViewSeed struct {
	AccountID    uuid.UUID     `gorm:"type:uuid;primaryKey" json:"account_id"`
	OwnerAddress string        `gorm:"type:varchar(42);not null" json:"owner_address"`
	Seed         stream.Scalar `gorm:"type:varchar(66);not null" json:"-"`
	NextIndex    uint64        `gorm:"not null;default:0" json:"next_index"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ExpectedStateObject 尚未在链上出现的候选对象 (look-ahead 缓冲区条目)
type ExpectedStateObject struct {
	RecoveryID  stream.Scalar `gorm:"type:varchar(66);primaryKey" json:"recovery_id"`
	AccountID   uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_expected_account_index" json:"account_id"`
	StreamIndex uint64        `gorm:"not null;uniqueIndex:idx_expected_account_index" json:"stream_index"`
	ShareSeed   stream.Scalar `gorm:"type:varchar(66);not null" json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ProcessedRecoveryID 去重守卫: 插入即仲裁，同一 recovery id 最多插入一次
type ProcessedRecoveryID struct {
	RecoveryID stream.Scalar `gorm:"type:varchar(66);primaryKey"`
	Block      uint64        `gorm:"not null"`
	CreatedAt  time.Time
}

// ProcessedNullifier 去重守卫
type ProcessedNullifier struct {
	Nullifier stream.Scalar `gorm:"type:varchar(66);primaryKey"`
	Block     uint64        `gorm:"not null"`
	CreatedAt time.Time
}

// IndexingCursor 每条链一行，记录最后一个完整入队的区块
type IndexingCursor struct {
	Chain     string `gorm:"type:varchar(64);primaryKey"`
	LastBlock uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (MasterViewSeed) TableName() string {
	return "master_view_seeds"
}

func (ExpectedStateObject) TableName() string {
	return "expected_state_objects"
}

func (ProcessedRecoveryID) TableName() string {
	return "processed_recovery_ids"
}

func (ProcessedNullifier) TableName() string {
	return "processed_nullifiers"
}

func (IndexingCursor) TableName() string {
	return "indexing_metadata"
}
