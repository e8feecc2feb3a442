package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"darkpool-indexer/pkg/stream"
)

type ObjectKind string

const (
	KindBalance ObjectKind = "balance"
	KindIntent  ObjectKind = "intent"
)

func (k ObjectKind) Valid() bool {
	return k == KindBalance || k == KindIntent
}

type ObjectStatus string

const (
	StatusMaterialized ObjectStatus = "materialized"
	StatusSpent        ObjectStatus = "spent"
)

// StateObject 是 Balance 和 Intent 的公共字段。对象永不删除，花费后只改状态
type StateObject struct {
	RecoveryID   stream.Scalar   `gorm:"type:varchar(66);primaryKey" json:"recovery_id"`
	AccountID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"account_id"`
	StreamIndex  uint64          `gorm:"not null" json:"stream_index"`
	Version      uint64          `gorm:"not null;default:0" json:"version"`
	ShareSeed    stream.Scalar   `gorm:"type:varchar(66);not null" json:"-"`
	PublicShare  []byte          `gorm:"not null" json:"public_share"`
	Nullifier    stream.Scalar   `gorm:"type:varchar(66);not null;uniqueIndex" json:"nullifier"`
	Mint         string          `gorm:"type:varchar(42);not null" json:"mint"`
	Amount       decimal.Decimal `gorm:"type:numeric(78,0);not null" json:"amount"`
	Status       ObjectStatus    `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedBlock uint64          `gorm:"not null" json:"created_block"`
	CreatedTx    string          `gorm:"type:varchar(66)" json:"created_tx,omitempty"`
	SpentBlock   *uint64         `json:"spent_block,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Balance 私有余额
type Balance struct {
	StateObject `gorm:"embedded"`
}

// Intent 私有订单意图，撮合后由后继版本替代
type Intent struct {
	StateObject `gorm:"embedded"`
	OutputMint  string         `gorm:"type:varchar(42);not null" json:"output_mint"`
	Predecessor *stream.Scalar `gorm:"type:varchar(66)" json:"predecessor,omitempty"`
}

func (Balance) TableName() string {
	return "balances"
}

func (Intent) TableName() string {
	return "intents"
}
