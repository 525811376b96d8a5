package annotation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// OutboxEvent is written in the same transaction as its annotation and relayed to the fanout.
type OutboxEvent struct {
	Seq          int64          `gorm:"column:seq;primaryKey;autoIncrement" json:"seq"`
	AnnotationID uuid.UUID      `gorm:"type:uuid;column:annotation_id;not null;uniqueIndex" json:"annotation_id"`
	Payload      datatypes.JSON `gorm:"column:payload;not null" json:"payload"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError    string         `gorm:"column:last_error" json:"last_error,omitempty"`
	PublishedAt  *time.Time     `gorm:"column:published_at;index" json:"published_at,omitempty"`
	// ClaimedUntil is the relay lease; other relays skip the row until it lapses.
	ClaimedUntil *time.Time `gorm:"column:claimed_until" json:"claimed_until,omitempty"`
	// ParkedAt is set once the row exhausted its publish attempts; the relay no longer picks it up.
	ParkedAt  *time.Time `gorm:"column:parked_at;index" json:"parked_at,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;not null" json:"created_at"`
}

func (OutboxEvent) TableName() string { return "outbox_event" }
