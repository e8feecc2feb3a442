package model

import "time"

const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
)

// DeadLetter 本地死信表 (Transactional Outbox)
// 消息在同一事务中落库，RelayService 再投递到 Kafka 死信主题
type DeadLetter struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageType string    `gorm:"type:varchar(64);not null" json:"message_type"`
	Chain       string    `gorm:"type:varchar(64)" json:"chain"`
	Reason      string    `gorm:"type:text;not null" json:"reason"`
	Attempts    int       `gorm:"not null" json:"attempts"`
	Payload     []byte    `gorm:"not null" json:"payload"`
	Status      string    `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"` // PENDING, SENT
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RetainedMessage 没有匹配到候选对象的事件，保留等待 backfill 重放
type RetainedMessage struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	DedupKey    string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"dedup_key"`
	MessageType string    `gorm:"type:varchar(64);not null" json:"message_type"`
	Chain       string    `gorm:"type:varchar(64)" json:"chain"`
	Reason      string    `gorm:"type:varchar(64);not null" json:"reason"`
	Payload     []byte    `gorm:"not null" json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

func (DeadLetter) TableName() string {
	return "dead_letters"
}

func (RetainedMessage) TableName() string {
	return "retained_messages"
}
