package models

import (
	"fmt"
	"time"
)

// RevocationTask is the payload of one scheduled removal.
type RevocationTask struct {
	GrantID     string    `json:"grant_id"`
	UserID      int64     `json:"user_id"`
	ChannelID   int64     `json:"channel_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	DueAt       time.Time `json:"due_at"`
}

// Key identifies the pending task of a (user, channel) pair. A newer task
// with the same key replaces the older one.
func (t RevocationTask) Key() string {
	return fmt.Sprintf("%d:%d", t.UserID, t.ChannelID)
}

func (t RevocationTask) Delay() time.Duration {
	return t.DueAt.Sub(t.ScheduledAt)
}
