package models

import (
	"time"
)

// User is one ledger row per Telegram user that ever talked to the bot.
type User struct {
	UserID              int64      `gorm:"primaryKey;autoIncrement:false" bson:"_id"`
	HasReceivedFreeLink bool       `gorm:"not null;default:false" bson:"has_received_free_link"`
	LastLinkAt          *time.Time `bson:"last_link_at,omitempty"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}
