package models

import (
	"time"
)

const (
	SettingsID                   = 1
	DefaultInviteDurationSeconds = 86400
)

// Settings is the singleton admin configuration row.
type Settings struct {
	ID                    uint      `gorm:"primaryKey;autoIncrement:false" bson:"_id"`
	ChannelID             *int64    `bson:"channel_id,omitempty"`
	ShortenerDomain       *string   `gorm:"size:255" bson:"shortener_domain,omitempty"`
	ShortenerAPIKey       *string   `gorm:"size:255" bson:"shortener_api_key,omitempty"`
	InviteDurationSeconds int64     `gorm:"not null;default:86400" bson:"invite_duration_seconds"`
	UpdatedAt             time.Time `bson:"updated_at"`
}

func (Settings) TableName() string { return "admin_settings" }

func DefaultSettings() Settings {
	return Settings{
		ID:                    SettingsID,
		InviteDurationSeconds: DefaultInviteDurationSeconds,
	}
}

func (s *Settings) HasChannel() bool {
	return s.ChannelID != nil
}

// ShortenerConfigured reports whether both shortener fields are set.
func (s *Settings) ShortenerConfigured() bool {
	return s.ShortenerDomain != nil && *s.ShortenerDomain != "" &&
		s.ShortenerAPIKey != nil && *s.ShortenerAPIKey != ""
}

func (s *Settings) InviteDuration() time.Duration {
	return time.Duration(s.InviteDurationSeconds) * time.Second
}
